package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/chat"
	"github.com/suPer8Hu/pixelshift/internal/identity"
	"github.com/suPer8Hu/pixelshift/internal/payment"
	"gorm.io/gorm"
)

var (
	// ErrInFlight means another delivery of the same checkout session is
	// being provisioned right now.
	ErrInFlight = errors.New("provisioning already in flight")
	// ErrIdentity wraps every failure to obtain an anonymous identity.
	ErrIdentity = errors.New("anonymous identity provisioning failed")
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type MetadataWriter interface {
	Update(ctx context.Context, sessionID, userID, chatID string) (map[string]string, error)
}

type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Order is what a paid checkout session asks us to fulfil.
type Order struct {
	SessionID string
	ImageURLs []string
	Prompt    string
}

// OrderFromSession reads the fulfillment fields back out of checkout metadata.
func OrderFromSession(cs *payment.CheckoutSession) Order {
	urls, err := payment.ImagesFromMetadata(cs.Metadata)
	if err != nil {
		log.Warn().Err(err).Str("session_id", cs.ID).Msg("checkout metadata images decoded leniently")
	}
	if len(urls) == 0 {
		log.Warn().Str("session_id", cs.ID).Msg("paid checkout session carries no images")
	}
	return Order{
		SessionID: cs.ID,
		ImageURLs: urls,
		Prompt:    cs.Metadata[payment.KeyPrompt],
	}
}

type Result struct {
	UserID    string
	ChatID    uint64
	RequestID uint64
	// Duplicate is set when the session had already been provisioned.
	Duplicate bool
}

type Deps struct {
	DB             *gorm.DB
	Identity       identity.Provider
	Metadata       MetadataWriter
	Publisher      Publisher
	Locker         Locker
	TransformQueue string
	ReconcileQueue string
}

// Provisioner turns a confirmed payment into an identity, a Chat and its
// Request. It is keyed by checkout-session id: redelivery of the same
// session returns the first result.
type Provisioner struct {
	db       *gorm.DB
	repo     *Repo
	chats    *chat.Repo
	registry *chat.Registry
	identity identity.Provider
	metadata MetadataWriter
	pub      Publisher
	locker   Locker
	lockTTL  time.Duration

	transformQueue string
	reconcileQueue string
}

func NewProvisioner(d Deps) *Provisioner {
	chats := chat.NewRepo(d.DB)
	return &Provisioner{
		db:             d.DB,
		repo:           NewRepo(d.DB),
		chats:          chats,
		registry:       chat.NewRegistry(chats),
		identity:       d.Identity,
		metadata:       d.Metadata,
		pub:            d.Publisher,
		locker:         d.Locker,
		lockTTL:        time.Minute,
		transformQueue: d.TransformQueue,
		reconcileQueue: d.ReconcileQueue,
	}
}

func (p *Provisioner) Provision(ctx context.Context, o Order) (*Result, error) {
	release, err := p.lock(ctx, o.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if res, err := p.processed(ctx, o.SessionID); err != nil || res != nil {
		return res, err
	}

	// 1) identity: reuse the one a failed earlier delivery already created
	userID, err := p.existingUser(ctx, o.SessionID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		id, err := p.identity.SignInAnonymously(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
		}
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
		}
		userID = id.UserID

		// 2) token mapping (best effort)
		p.saveMapping(ctx, o.SessionID, id)
	}

	// 3) + 4) chat and request
	res, err := p.commit(ctx, o, userID)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", o.SessionID).
			Str("user_id", userID).
			Msg("provisioning failed after identity creation")
		p.scheduleReconcile(ctx, ReconcileMessage{
			SessionID: o.SessionID,
			UserID:    userID,
			ImageURLs: o.ImageURLs,
			Prompt:    o.Prompt,
			Attempt:   1,
		})
		return nil, err
	}

	p.afterCommit(ctx, o, res)
	return res, nil
}

// Resume finishes provisioning for an identity that already exists. The
// reconciler calls it; it is a no-op for sessions already committed.
func (p *Provisioner) Resume(ctx context.Context, m ReconcileMessage) (*Result, error) {
	if m.SessionID == "" || m.UserID == "" {
		return nil, errors.New("reconcile message needs session_id and user_id")
	}
	release, err := p.lock(ctx, m.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if res, err := p.processed(ctx, m.SessionID); err != nil || res != nil {
		return res, err
	}

	o := Order{SessionID: m.SessionID, ImageURLs: m.ImageURLs, Prompt: m.Prompt}
	res, err := p.commit(ctx, o, m.UserID)
	if err != nil {
		return nil, err
	}
	p.afterCommit(ctx, o, res)
	return res, nil
}

func (p *Provisioner) lock(ctx context.Context, sessionID string) (func(), error) {
	noop := func() {}
	if p.locker == nil {
		return noop, nil
	}
	release, ok, err := p.locker.Acquire(ctx, "provision:"+sessionID, p.lockTTL)
	if err != nil {
		// the processed marker still guards sequential redelivery
		log.Warn().Err(err).Str("session_id", sessionID).Msg("provision lock unavailable, continuing unlocked")
		return noop, nil
	}
	if !ok {
		return nil, ErrInFlight
	}
	return release, nil
}

func (p *Provisioner) processed(ctx context.Context, sessionID string) (*Result, error) {
	done, err := p.repo.GetProcessed(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	log.Info().Str("session_id", sessionID).Uint64("chat_id", done.ChatID).Msg("checkout session already provisioned")
	return &Result{UserID: done.UserID, ChatID: done.ChatID, RequestID: done.RequestID, Duplicate: true}, nil
}

func (p *Provisioner) existingUser(ctx context.Context, sessionID string) (string, error) {
	ps, err := p.repo.GetPaymentSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return ps.UserID, nil
}

func (p *Provisioner) saveMapping(ctx context.Context, sessionID string, id *identity.Identity) {
	ps := &PaymentSession{
		StripeSessionsID: sessionID,
		UserID:           id.UserID,
		SessionToken:     &id.AccessToken,
		RefreshToken:     &id.RefreshToken,
	}
	if id.ExpiresAt > 0 {
		t := time.Unix(id.ExpiresAt, 0).UTC()
		ps.ExpiresAt = &t
	}
	if err := p.repo.InsertPaymentSession(ctx, ps); err != nil {
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("user_id", id.UserID).
			Msg("payment session mapping not stored")
	}
}

func (p *Provisioner) commit(ctx context.Context, o Order, userID string) (*Result, error) {
	res := &Result{UserID: userID}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chats := p.chats.WithTx(tx)

		c := &chat.Chat{UserID: userID, Status: chat.StatusPending}
		if err := chats.CreateChat(ctx, c); err != nil {
			return fmt.Errorf("create chat: %w", err)
		}

		req := &chat.Request{ChatID: c.ID, ImageURL: o.ImageURLs, Prompt: o.Prompt}
		if req.ImageURL == nil {
			req.ImageURL = []string{}
		}
		if err := chats.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		marker := &ProcessedSession{
			StripeSessionsID: o.SessionID,
			UserID:           userID,
			ChatID:           c.ID,
			RequestID:        req.ID,
		}
		if err := tx.WithContext(ctx).Create(marker).Error; err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}

		res.ChatID = c.ID
		res.RequestID = req.ID
		return nil
	})
	if err == nil {
		return res, nil
	}

	// lost a race against a delivery that ran without the lock
	if done, perr := p.processed(ctx, o.SessionID); perr == nil && done != nil {
		return done, nil
	}
	return nil, err
}

func (p *Provisioner) afterCommit(ctx context.Context, o Order, res *Result) {
	l := log.With().Str("session_id", o.SessionID).Uint64("chat_id", res.ChatID).Logger()

	if err := p.registry.Register(ctx, o.SessionID, res.ChatID); err != nil {
		l.Warn().Err(err).Msg("shared session grant not stored")
	}

	if p.metadata != nil {
		if _, err := p.metadata.Update(ctx, o.SessionID, res.UserID, strconv.FormatUint(res.ChatID, 10)); err != nil {
			l.Warn().Err(err).Msg("checkout metadata cross-reference not updated")
		}
	}

	if p.pub != nil && p.transformQueue != "" {
		job := chat.TransformJob{
			ChatID:    res.ChatID,
			RequestID: res.RequestID,
			UserID:    res.UserID,
			ImageURLs: o.ImageURLs,
			Prompt:    o.Prompt,
		}
		if err := p.pub.Publish(ctx, p.transformQueue, job); err != nil {
			l.Warn().Err(err).Msg("transform job not published")
		}
	}

	l.Info().Str("user_id", res.UserID).Uint64("request_id", res.RequestID).Msg("checkout session provisioned")
}

func (p *Provisioner) scheduleReconcile(ctx context.Context, m ReconcileMessage) {
	if p.pub == nil || p.reconcileQueue == "" {
		log.Error().Str("session_id", m.SessionID).Str("user_id", m.UserID).
			Msg("no reconcile queue configured; identity needs manual reconciliation")
		return
	}
	if err := p.pub.Publish(ctx, p.reconcileQueue, m); err != nil {
		log.Error().Err(err).Str("session_id", m.SessionID).Str("user_id", m.UserID).
			Msg("reconcile message not published; identity needs manual reconciliation")
	}
}
