package provider

import (
	"net/http"
	"sync"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
)

// Settings is the credential record the registry is assembled from
type Settings struct {
	Stripe       StripeConfig       `json:"stripe"`
	Paystack     PaystackConfig     `json:"paystack"`
	Flutterwave  FlutterwaveConfig  `json:"flutterwave"`
	PayPal       PayPalConfig       `json:"paypal"`
	BankTransfer BankTransferConfig `json:"bank_transfer"`
}

// Merge overlays the non-empty credential groups of override onto s
func (s Settings) Merge(override Settings) Settings {
	if override.Stripe.Configured() {
		s.Stripe = override.Stripe
	}
	if override.Paystack.Configured() {
		s.Paystack = override.Paystack
	}
	if override.Flutterwave.Configured() {
		s.Flutterwave = override.Flutterwave
	}
	if override.PayPal.Configured() {
		s.PayPal = override.PayPal
	}
	if override.BankTransfer.Configured() {
		s.BankTransfer = override.BankTransfer
	}
	return s
}

// Info is the display metadata of an available provider
type Info struct {
	ID          models.Provider `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
}

var catalogue = map[models.Provider]Info{
	models.ProviderStripe:       {ID: models.ProviderStripe, Name: "Card (Stripe)", Description: "Pay securely by credit or debit card"},
	models.ProviderPaystack:     {ID: models.ProviderPaystack, Name: "Paystack", Description: "Card, bank and mobile money via Paystack"},
	models.ProviderFlutterwave:  {ID: models.ProviderFlutterwave, Name: "Flutterwave", Description: "Card, bank and mobile money via Flutterwave"},
	models.ProviderPayPal:       {ID: models.ProviderPayPal, Name: "PayPal", Description: "Pay with your PayPal account"},
	models.ProviderBankTransfer: {ID: models.ProviderBankTransfer, Name: "Bank Transfer", Description: "Transfer directly and upload proof of payment"},
}

// Registry holds the adapters of every configured provider. It is read-mostly;
// Reload swaps the whole set atomically.
type Registry struct {
	mu       sync.RWMutex
	client   *http.Client
	adapters map[models.Provider]Adapter
}

// NewRegistry builds the adapters enabled by settings
func NewRegistry(settings Settings, client *http.Client) *Registry {
	r := &Registry{client: client}
	r.Reload(settings)
	return r
}

// Reload rebuilds the adapter set from settings
func (r *Registry) Reload(settings Settings) {
	adapters := make(map[models.Provider]Adapter)
	if settings.Stripe.Configured() {
		adapters[models.ProviderStripe] = NewStripe(settings.Stripe, r.client)
	}
	if settings.Paystack.Configured() {
		adapters[models.ProviderPaystack] = NewPaystack(settings.Paystack, r.client)
	}
	if settings.Flutterwave.Configured() {
		adapters[models.ProviderFlutterwave] = NewFlutterwave(settings.Flutterwave, r.client)
	}
	if settings.PayPal.Configured() {
		adapters[models.ProviderPayPal] = NewPayPal(settings.PayPal, r.client)
	}
	if settings.BankTransfer.Configured() {
		adapters[models.ProviderBankTransfer] = NewBankTransfer(settings.BankTransfer)
	}

	r.mu.Lock()
	r.adapters = adapters
	r.mu.Unlock()
}

// Available lists the configured providers in display order
func (r *Registry) Available() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.adapters))
	for _, id := range models.Providers {
		if _, ok := r.adapters[id]; ok {
			infos = append(infos, catalogue[id])
		}
	}
	return infos
}

// Resolve returns the adapter for id or a provider_unavailable error
func (r *Registry) Resolve(id models.Provider) (Adapter, error) {
	if !id.Valid() {
		return nil, apperror.Newf(apperror.KindValidation, "unknown payment provider %q", id)
	}
	r.mu.RLock()
	adapter, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.Newf(apperror.KindProviderUnavailable, "payment provider %s is not configured", id)
	}
	return adapter, nil
}
