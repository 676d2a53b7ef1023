package payment

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	PaymentStatusPaid             = "paid"
)

// CheckoutSession is the part of the provider's checkout session this
// service reads.
type CheckoutSession struct {
	ID            string
	URL           string
	PaymentStatus string
	Metadata      map[string]string
}

// Event is a verified provider event. Session is set for checkout.session.*
// events only.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// Gateway is the payment provider contract: hosted checkout plus signed
// webhooks.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (*CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (*Event, error)
}
