package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSettings struct {
	raw types.JSONText
	err error
}

func (s stubSettings) GetPaymentSettings(ctx context.Context) (types.JSONText, error) {
	return s.raw, s.err
}

func TestSettingsLoadMergesOverride(t *testing.T) {
	base := provider.Settings{
		Stripe: provider.StripeConfig{SecretKey: "sk_env", PublishableKey: "pk_env"},
	}
	raw := types.JSONText(`{"paystack":{"secret_key":"sk_db","public_key":"pk_db"},"stripe":{"secret_key":"sk_db"}}`)

	svc := NewSettingsService(stubSettings{raw: raw}, base, provider.NewRegistry(provider.Settings{}, http.DefaultClient))
	settings, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk_db", settings.Paystack.SecretKey)
	// an incomplete stripe override does not replace the environment credentials
	assert.Equal(t, "sk_env", settings.Stripe.SecretKey)
}

func TestSettingsLoadErrors(t *testing.T) {
	base := provider.Settings{Stripe: provider.StripeConfig{SecretKey: "sk", PublishableKey: "pk"}}

	svc := NewSettingsService(stubSettings{err: errors.New("db down")}, base, nil)
	settings, err := svc.Load(context.Background())
	assert.Error(t, err)
	assert.Equal(t, base, settings)

	svc = NewSettingsService(stubSettings{raw: types.JSONText(`{not json`)}, base, nil)
	_, err = svc.Load(context.Background())
	assert.Error(t, err)

	svc = NewSettingsService(stubSettings{}, base, nil)
	settings, err = svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base, settings)
}

func TestSettingsReload(t *testing.T) {
	registry := provider.NewRegistry(provider.Settings{}, http.DefaultClient)
	raw := types.JSONText(`{"bank_transfer":{"bank_name":"B","account_name":"A","account_number":"1"}}`)
	svc := NewSettingsService(stubSettings{raw: raw}, provider.Settings{}, registry)

	_, err := svc.Reload(context.Background(), customer)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	available, err := svc.Reload(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, models.ProviderBankTransfer, available[0].ID)

	_, err = registry.Resolve(models.ProviderBankTransfer)
	assert.NoError(t, err)
}
