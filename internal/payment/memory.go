package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/suPer8Hu/pixelshift/internal/common"
)

const DevSessionPrefix = "dev_session_"

// MemoryGateway is the BYPASS_STRIPE gateway: checkout sessions live in
// process memory and events are trusted unsigned. Never wire it outside
// development.
type MemoryGateway struct {
	mu       sync.Mutex
	sessions map[string]*CheckoutSession
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{sessions: make(map[string]*CheckoutSession)}
}

func (g *MemoryGateway) CreateCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	id = DevSessionPrefix + strings.ToLower(id)

	s := &CheckoutSession{
		ID:            id,
		URL:           strings.ReplaceAll(p.SuccessURL, checkoutSessionToken, id),
		PaymentStatus: "unpaid",
		Metadata:      copyMap(p.Metadata),
	}
	g.mu.Lock()
	g.sessions[id] = s
	g.mu.Unlock()
	return cloneSession(s), nil
}

func (g *MemoryGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// UpdateMetadata merges like Stripe does: keys in metadata overwrite, others
// are kept.
func (g *MemoryGateway) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
	return cloneSession(s), nil
}

func (g *MemoryGateway) ParseEvent(payload []byte, _ string) (*Event, error) {
	return DecodeEvent(payload)
}

// MarkPaid flips a session to paid and returns the completed event the
// provider would have delivered.
func (g *MemoryGateway) MarkPaid(id string) (*Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.PaymentStatus = PaymentStatusPaid
	return &Event{
		ID:      "evt_" + id,
		Type:    EventCheckoutSessionCompleted,
		Session: cloneSession(s),
	}, nil
}

func cloneSession(s *CheckoutSession) *CheckoutSession {
	c := *s
	c.Metadata = copyMap(s.Metadata)
	return &c
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
