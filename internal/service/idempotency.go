package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"

	"go.uber.org/zap"
)

// ReplayTTL is how long an initialize response is replayed for the same Idempotency-Key
const ReplayTTL = 24 * time.Hour

const maxClientKeyLength = 128

// UseIdempotencyStore enables Idempotency-Key replay on InitiateOnce
func (o *Orchestrator) UseIdempotencyStore(s IdempotencyStore) {
	o.idempotency = s
}

// InitiateOnce runs Initiate at most once per client key, booking and provider. A repeated
// request gets the stored response back; replayed reports whether that happened.
// Without a key, or without a store, it is a plain Initiate.
func (o *Orchestrator) InitiateOnce(ctx context.Context, bookingID string, providerID models.Provider, clientKey string, principal models.Principal) (result *InitiateResult, replayed bool, err error) {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" || o.idempotency == nil {
		result, err = o.Initiate(ctx, bookingID, providerID, principal)
		return result, false, err
	}
	if len(clientKey) > maxClientKeyLength {
		return nil, false, apperror.New(apperror.KindValidation, "Idempotency-Key is too long")
	}

	key := replayKey(bookingID, providerID, clientKey)
	if cached, ok := o.replay(ctx, key); ok {
		return cached, true, nil
	}

	token, acquired, err := o.idempotency.AcquireLock(ctx, key, 3*o.cfg.ProviderTimeout)
	if err != nil {
		o.logger.Warn("Idempotency lock unavailable, continuing without replay", zap.Error(err))
		result, err = o.Initiate(ctx, bookingID, providerID, principal)
		return result, false, err
	}
	if !acquired {
		return nil, false, apperror.Conflict(apperror.CodePaymentInProgress, "a request with this Idempotency-Key is already being processed")
	}

	result, err = o.Initiate(ctx, bookingID, providerID, principal)
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := o.idempotency.ReleaseLock(persistCtx, key, token); relErr != nil {
			o.logger.Warn("Failed to release idempotency lock", zap.Error(relErr))
		}
		return nil, false, err
	}

	body, mErr := json.Marshal(result)
	if mErr == nil {
		mErr = o.idempotency.StoreIdempotentResponse(persistCtx, key, token, body, ReplayTTL)
	}
	if mErr != nil {
		o.logger.Warn("Failed to store idempotent response",
			zap.String("payment_id", result.PaymentID),
			zap.Error(mErr))
	}
	return result, false, nil
}

// replayKey scopes a client key to the request parameters so a reused key never replays another provider
func replayKey(bookingID string, providerID models.Provider, clientKey string) string {
	return "initiate:" + bookingID + ":" + string(providerID) + ":" + clientKey
}

func (o *Orchestrator) replay(ctx context.Context, key string) (*InitiateResult, bool) {
	body, ok, err := o.idempotency.GetIdempotentResponse(ctx, key)
	if err != nil {
		o.logger.Warn("Idempotency store read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cached InitiateResult
	if err := json.Unmarshal(body, &cached); err != nil {
		o.logger.Warn("Discarding unreadable idempotent response", zap.Error(err))
		return nil, false
	}
	return &cached, true
}
