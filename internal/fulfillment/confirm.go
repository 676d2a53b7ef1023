package fulfillment

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/payment"
)

// Ack is the webhook acknowledgment body.
type Ack struct {
	Received      bool   `json:"received"`
	Success       *bool  `json:"success,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	UserID        string `json:"userId,omitempty"`
	ChatID        uint64 `json:"chatId,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

type provisioner interface {
	Provision(ctx context.Context, o Order) (*Result, error)
}

// Confirmer reacts to verified payment events.
type Confirmer struct {
	prov provisioner
}

func NewConfirmer(p *Provisioner) *Confirmer {
	return &Confirmer{prov: p}
}

// Handle runs Provisioning for paid checkout.session.completed events and
// acknowledges everything else without side effects.
func (c *Confirmer) Handle(ctx context.Context, ev *payment.Event) (*Ack, error) {
	if ev.Type != payment.EventCheckoutSessionCompleted || ev.Session == nil {
		log.Debug().Str("type", ev.Type).Str("event_id", ev.ID).Msg("webhook ignored (unhandled type)")
		return &Ack{Received: true}, nil
	}

	cs := ev.Session
	if cs.PaymentStatus != payment.PaymentStatusPaid {
		log.Info().Str("session_id", cs.ID).Str("payment_status", cs.PaymentStatus).Msg("checkout completed without payment")
		return &Ack{
			Received:      true,
			Success:       boolPtr(false),
			SessionID:     cs.ID,
			PaymentStatus: cs.PaymentStatus,
		}, nil
	}

	res, err := c.prov.Provision(ctx, OrderFromSession(cs))
	if err != nil {
		return nil, err
	}
	return &Ack{
		Received:      true,
		Success:       boolPtr(true),
		SessionID:     cs.ID,
		PaymentStatus: cs.PaymentStatus,
		UserID:        res.UserID,
		ChatID:        res.ChatID,
		Duplicate:     res.Duplicate,
	}, nil
}

func boolPtr(b bool) *bool { return &b }
