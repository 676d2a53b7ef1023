// Package app holds the wiring shared by the server and worker binaries.
package app

import (
	"errors"
	"fmt"

	"github.com/suPer8Hu/pixelshift/internal/chat"
	"github.com/suPer8Hu/pixelshift/internal/config"
	"github.com/suPer8Hu/pixelshift/internal/fulfillment"
	"github.com/suPer8Hu/pixelshift/internal/identity"
	"github.com/suPer8Hu/pixelshift/internal/payment"
	"gorm.io/gorm"
)

// Models lists every table the service migrates.
func Models() []any {
	models := append(chat.Models(), fulfillment.Models()...)
	return append(models, &identity.AnonymousUser{})
}

// Gateway picks the payment gateway. The in-memory gateway is only allowed
// in development.
func Gateway(cfg config.Config) (payment.Gateway, error) {
	if cfg.BypassStripe {
		if !cfg.Development() {
			return nil, errors.New("BYPASS_STRIPE requires APP_ENV=development")
		}
		return payment.NewMemoryGateway(), nil
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	return payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret), nil
}

// Identity picks the anonymous identity provider. local is non-nil when the
// built-in provider is selected.
func Identity(cfg config.Config, db *gorm.DB) (p identity.Provider, local *identity.LocalProvider, err error) {
	switch cfg.IdentityProvider {
	case "", "local":
		local = identity.NewLocalProvider(db, cfg.JWTSecret, cfg.AccessTokenTTL)
		return local, local, nil
	case "gotrue":
		if cfg.GoTrueURL == "" || cfg.GoTrueAnonKey == "" {
			return nil, nil, errors.New("GOTRUE_URL and GOTRUE_ANON_KEY are required")
		}
		return identity.NewGoTrueProvider(cfg.GoTrueURL, cfg.GoTrueAnonKey), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported IDENTITY_PROVIDER=%q", cfg.IdentityProvider)
	}
}
