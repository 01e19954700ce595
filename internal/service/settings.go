package service

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/provider"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// SettingsService assembles provider credentials from the environment and the stored override
type SettingsService struct {
	source   SettingsSource
	base     provider.Settings
	reloader ProviderReloader
	logger   *zap.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(source SettingsSource, base provider.Settings, reloader ProviderReloader) *SettingsService {
	return &SettingsService{
		source:   source,
		base:     base,
		reloader: reloader,
		logger:   util.GetLogger(),
	}
}

// Load returns the environment settings overlaid with the stored override, if one exists
func (s *SettingsService) Load(ctx context.Context) (provider.Settings, error) {
	raw, err := s.source.GetPaymentSettings(ctx)
	if err != nil {
		return s.base, fmt.Errorf("failed to load payment settings: %w", err)
	}
	if len(raw) == 0 {
		return s.base, nil
	}

	var override provider.Settings
	if err := json.Unmarshal(raw, &override); err != nil {
		return s.base, fmt.Errorf("failed to decode payment settings: %w", err)
	}
	return s.base.Merge(override), nil
}

// Reload rebuilds the provider registry from the current settings
func (s *SettingsService) Reload(ctx context.Context, principal models.Principal) ([]provider.Info, error) {
	if !principal.IsAdmin() {
		return nil, apperror.New(apperror.KindForbidden, "reloading settings requires the admin role")
	}
	settings, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.reloader.Reload(settings)

	var available []provider.Info
	if lister, ok := s.reloader.(interface{ Available() []provider.Info }); ok {
		available = lister.Available()
	}
	s.logger.Info("Payment providers reloaded",
		zap.String("admin", principal.UserID),
		zap.Int("available", len(available)))
	return available, nil
}
