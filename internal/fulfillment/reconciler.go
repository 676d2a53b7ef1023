package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrGiveUp tells the consumer to dead-letter the message.
var ErrGiveUp = errors.New("reconcile message dropped")

type Requeuer interface {
	PublishDelayed(ctx context.Context, queue string, v any, delay time.Duration) error
}

// Reconciler finishes provisioning that failed after an identity had been
// created. Each message is retried with backoff up to maxAttempts.
type Reconciler struct {
	prov        *Provisioner
	requeue     Requeuer
	queue       string
	maxAttempts int
}

func NewReconciler(p *Provisioner, rq Requeuer, queue string, maxAttempts int) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Reconciler{prov: p, requeue: rq, queue: queue, maxAttempts: maxAttempts}
}

// Handle processes one delivery. nil means ack; an error wrapping ErrGiveUp
// means the message goes to the dead-letter queue. Any other error means the
// consumer is stopping and the delivery should be requeued as it was.
func (r *Reconciler) Handle(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var m ReconcileMessage
	if err := json.Unmarshal(body, &m); err != nil || m.SessionID == "" || m.UserID == "" {
		return fmt.Errorf("%w: bad message: %v", ErrGiveUp, err)
	}
	if m.Attempt <= 0 {
		m.Attempt = 1
	}

	res, err := r.prov.Resume(ctx, m)
	if err == nil {
		log.Info().Str("session_id", m.SessionID).Str("user_id", res.UserID).Uint64("chat_id", res.ChatID).
			Int("attempt", m.Attempt).Bool("duplicate", res.Duplicate).Msg("reconciled")
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("reconcile interrupted: %w", ctx.Err())
	}

	if errors.Is(err, ErrInFlight) {
		// a webhook redelivery is working on it; look again later without
		// spending an attempt
		return r.retry(ctx, m, Backoff(1))
	}

	if m.Attempt >= r.maxAttempts {
		log.Error().Err(err).Str("session_id", m.SessionID).Str("user_id", m.UserID).
			Int("attempt", m.Attempt).Msg("reconcile attempts exhausted")
		return fmt.Errorf("%w: %w", ErrGiveUp, err)
	}
	log.Warn().Err(err).Str("session_id", m.SessionID).Int("attempt", m.Attempt).Msg("reconcile failed, retrying")
	delay := Backoff(m.Attempt)
	m.Attempt++
	return r.retry(ctx, m, delay)
}

func (r *Reconciler) retry(ctx context.Context, m ReconcileMessage, delay time.Duration) error {
	if err := r.requeue.PublishDelayed(ctx, r.queue, m, delay); err != nil {
		return fmt.Errorf("%w: requeue: %w", ErrGiveUp, err)
	}
	return nil
}

// Backoff is 5s, 20s, 45s... capped at five minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt*attempt) * 5 * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
