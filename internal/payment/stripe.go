package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway talks to Stripe Checkout and verifies Stripe-Signature
// headers.
type StripeGateway struct {
	sessions      *session.Client
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error) {
	li := p.LineItem
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(li.Name),
	}
	if li.Description != "" {
		product.Description = stripe.String(li.Description)
	}
	if len(li.Images) > 0 {
		product.Images = stripe.StringSlice(li.Images)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(li.Currency),
					ProductData: product,
					UnitAmount:  stripe.Int64(li.UnitAmount),
				},
				Quantity: stripe.Int64(li.Quantity),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.sessions.Get(id, params)
	if err != nil {
		return nil, mapStripeErr(err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	s, err := g.sessions.Update(id, params)
	if err != nil {
		return nil, mapStripeErr(err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var raw []byte
	if ev.Data != nil {
		raw = ev.Data.Raw
	}
	return decodeObject(ev.ID, string(ev.Type), raw)
}

func fromStripe(s *stripe.CheckoutSession) *CheckoutSession {
	md := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		md[k] = v
	}
	return &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      md,
	}
}

func mapStripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == 404 || se.Code == stripe.ErrorCodeResourceMissing {
			return ErrSessionNotFound
		}
	}
	return fmt.Errorf("stripe: %w", err)
}
