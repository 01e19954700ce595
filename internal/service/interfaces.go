package service

import (
	"context"
	"io"
	"os"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/proofstore"
	"payment-service/internal/provider"
	"payment-service/internal/store"

	"github.com/jmoiron/sqlx/types"
)

// Repository is the persistence used by the orchestrator
type Repository interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	FindByExternal(ctx context.Context, provider models.Provider, externalID string) (*models.Payment, error)
	FindByBooking(ctx context.Context, bookingID string) (*models.Payment, error)
	LatestProof(ctx context.Context, paymentID string) (*models.ProofOfPayment, error)
	LogWebhook(ctx context.Context, log *models.WebhookDeliveryLog) error
}

// AdminRepository adds the back-office queries
type AdminRepository interface {
	Repository
	ListPayments(ctx context.Context, f store.PaymentFilter) ([]models.PaymentListItem, int, error)
	StreamPayments(ctx context.Context, f store.PaymentFilter, fn func(item *models.PaymentListItem) error) error
	ListProofs(ctx context.Context, paymentID string) ([]models.ProofOfPayment, error)
	ListTransitions(ctx context.Context, paymentID string) ([]models.PaymentTransition, error)
}

// ProviderResolver selects adapters for configured providers
type ProviderResolver interface {
	Resolve(id models.Provider) (provider.Adapter, error)
	Available() []provider.Info
}

// EventEmitter hands domain events to asynchronous delivery. Emit never blocks on delivery.
type EventEmitter interface {
	Emit(ctx context.Context, event models.DomainEvent)
}

// ProofStorage persists proof files
type ProofStorage interface {
	Save(paymentID, originalName string, r io.Reader) (*proofstore.Stored, error)
	Open(storedPath string) (*os.File, error)
}

// IdempotencyStore backs client Idempotency-Key replay
type IdempotencyStore interface {
	GetIdempotentResponse(ctx context.Context, key string) ([]byte, bool, error)
	StoreIdempotentResponse(ctx context.Context, key, token string, body []byte, ttl time.Duration) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// SettingsSource loads the stored provider credential override
type SettingsSource interface {
	GetPaymentSettings(ctx context.Context) (types.JSONText, error)
}

// ProviderReloader swaps the registry's adapters
type ProviderReloader interface {
	Reload(settings provider.Settings)
}
