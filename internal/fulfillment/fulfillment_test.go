package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/pixelshift/internal/chat"
	"github.com/suPer8Hu/pixelshift/internal/identity"
	"github.com/suPer8Hu/pixelshift/internal/payment"
	"gorm.io/gorm"
)

type fakeIdentity struct {
	calls    int
	err      error
	noTokens bool
}

func (f *fakeIdentity) SignInAnonymously(ctx context.Context) (*identity.Identity, error) {
	_ = ctx
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	id := &identity.Identity{
		UserID:       fmt.Sprintf("user-%d", f.calls),
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    1700000000,
	}
	if f.noTokens {
		id.RefreshToken = ""
	}
	return id, nil
}

type published struct {
	queue string
	v     any
}

type recordingPublisher struct {
	msgs []published
}

func (p *recordingPublisher) Publish(ctx context.Context, queue string, v any) error {
	_ = ctx
	p.msgs = append(p.msgs, published{queue: queue, v: v})
	return nil
}

func (p *recordingPublisher) on(queue string) []any {
	var out []any
	for _, m := range p.msgs {
		if m.queue == queue {
			out = append(out, m.v)
		}
	}
	return out
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type fixture struct {
	db   *gorm.DB
	gw   *payment.MemoryGateway
	id   *fakeIdentity
	pub  *recordingPublisher
	prov *Provisioner
	conf *Confirmer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(append(chat.Models(), Models()...)...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	f := &fixture{
		db:  db,
		gw:  payment.NewMemoryGateway(),
		id:  &fakeIdentity{},
		pub: &recordingPublisher{},
	}
	f.prov = NewProvisioner(Deps{
		DB:             db,
		Identity:       f.id,
		Metadata:       payment.NewMetadataService(f.gw, nil),
		Publisher:      f.pub,
		TransformQueue: "transform_jobs",
		ReconcileQueue: "provision_reconcile",
	})
	f.conf = NewConfirmer(f.prov)
	return f
}

func (f *fixture) paidEvent(t *testing.T, urls []string, prompt string) *payment.Event {
	t.Helper()
	b := payment.NewBuilder(f.gw, payment.BuilderConfig{})
	cs, err := b.Create(context.Background(), "https://app", payment.CheckoutInput{ImageURLs: urls, Prompt: prompt})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	ev, err := f.gw.MarkPaid(cs.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	return ev
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestHandle_PaidEventProvisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "make it cyberpunk")

	ack, err := f.conf.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !ack.Received || ack.Success == nil || !*ack.Success || ack.UserID != "user-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	var chats []chat.Chat
	if err := f.db.Find(&chats).Error; err != nil {
		t.Fatalf("query chats: %v", err)
	}
	if len(chats) != 1 || chats[0].Status != chat.StatusPending || chats[0].UserID != "user-1" {
		t.Fatalf("unexpected chats %+v", chats)
	}

	var reqs []chat.Request
	if err := f.db.Find(&reqs).Error; err != nil {
		t.Fatalf("query requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ChatID != chats[0].ID {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	if len(reqs[0].ImageURL) != 1 || reqs[0].ImageURL[0] != "https://x/a.png" || reqs[0].Prompt != "make it cyberpunk" {
		t.Fatalf("request does not match metadata: %+v", reqs[0])
	}

	ps, err := NewRepo(f.db).GetPaymentSession(ctx, ev.Session.ID)
	if err != nil {
		t.Fatalf("payment session mapping: %v", err)
	}
	if ps.UserID != "user-1" || ps.ExpiresAt == nil || ps.ExpiresAt.Unix() != 1700000000 {
		t.Fatalf("unexpected mapping %+v", ps)
	}

	ok, err := chat.NewRegistry(chat.NewRepo(f.db)).Allows(ctx, ev.Session.ID, chats[0].ID)
	if err != nil || !ok {
		t.Fatalf("expected shared session grant, ok=%v err=%v", ok, err)
	}

	cs, err := f.gw.GetCheckoutSession(ctx, ev.Session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if cs.Metadata[payment.KeyChatID] != strconv.FormatUint(chats[0].ID, 10) || cs.Metadata[payment.KeyUserID] != "user-1" {
		t.Fatalf("metadata cross-reference missing: %v", cs.Metadata)
	}

	jobs := f.pub.on("transform_jobs")
	if len(jobs) != 1 {
		t.Fatalf("expected 1 transform job, got %d", len(jobs))
	}
	if job := jobs[0].(chat.TransformJob); job.ChatID != chats[0].ID || job.RequestID != reqs[0].ID {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestHandle_RedeliveryIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "make it cyberpunk")

	first, err := f.conf.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := f.conf.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if !second.Duplicate || second.ChatID != first.ChatID || second.UserID != first.UserID {
		t.Fatalf("expected second delivery to return first result, got %+v vs %+v", second, first)
	}
	if n := f.count(t, &chat.Chat{}); n != 1 {
		t.Fatalf("expected 1 chat, got %d", n)
	}
	if n := f.count(t, &chat.Request{}); n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}
	if f.id.calls != 1 {
		t.Fatalf("expected 1 identity, got %d", f.id.calls)
	}
	if len(f.pub.on("transform_jobs")) != 1 {
		t.Fatalf("expected a single transform job")
	}
}

func TestHandle_UnpaidIsAcknowledgedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ev := &payment.Event{
		Type: payment.EventCheckoutSessionCompleted,
		Session: &payment.CheckoutSession{
			ID:            "cs_unpaid",
			PaymentStatus: "unpaid",
			Metadata:      map[string]string{"image_count": "1", "imageUrl_0": "https://x/a.png"},
		},
	}

	ack, err := f.conf.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !ack.Received || ack.Success == nil || *ack.Success || ack.PaymentStatus != "unpaid" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if f.id.calls != 0 || f.count(t, &chat.Chat{}) != 0 || f.count(t, &PaymentSession{}) != 0 {
		t.Fatalf("expected no provisioning side effects")
	}
}

func TestHandle_OtherEventTypes(t *testing.T) {
	f := newFixture(t)
	ack, err := f.conf.Handle(context.Background(), &payment.Event{Type: "invoice.paid"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !ack.Received || ack.Success != nil {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestProvision_IdentityFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.id.err = errors.New("provider down")
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "p")

	_, err := f.conf.Handle(context.Background(), ev)
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected ErrIdentity, got %v", err)
	}
	if f.count(t, &chat.Chat{}) != 0 || f.count(t, &PaymentSession{}) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestProvision_IdentityWithoutTokens(t *testing.T) {
	f := newFixture(t)
	f.id.noTokens = true
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "p")

	_, err := f.conf.Handle(context.Background(), ev)
	if !errors.Is(err, ErrIdentity) || !errors.Is(err, identity.ErrNoSession) {
		t.Fatalf("expected ErrIdentity wrapping ErrNoSession, got %v", err)
	}
	if f.count(t, &chat.Chat{}) != 0 {
		t.Fatalf("expected no chat")
	}
}

func TestProvision_ChatFailureSchedulesReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "make it cyberpunk")

	if err := f.db.Migrator().DropTable(&chat.Chat{}); err != nil {
		t.Fatalf("drop chats: %v", err)
	}

	if _, err := f.conf.Handle(ctx, ev); err == nil {
		t.Fatalf("expected chat creation failure")
	}
	if f.count(t, &PaymentSession{}) != 1 {
		t.Fatalf("expected identity mapping to survive the failure")
	}
	msgs := f.pub.on("provision_reconcile")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reconcile message, got %d", len(msgs))
	}
	m := msgs[0].(ReconcileMessage)
	if m.SessionID != ev.Session.ID || m.UserID != "user-1" || m.Prompt != "make it cyberpunk" || m.Attempt != 1 {
		t.Fatalf("unexpected reconcile message %+v", m)
	}

	if err := f.db.AutoMigrate(&chat.Chat{}); err != nil {
		t.Fatalf("recreate chats: %v", err)
	}
	res, err := f.prov.Resume(ctx, m)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.UserID != "user-1" || res.ChatID == 0 {
		t.Fatalf("unexpected resume result %+v", res)
	}

	// the provider's own retry converges on the same identity and chat
	ack, err := f.conf.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !ack.Duplicate || ack.ChatID != res.ChatID {
		t.Fatalf("expected duplicate ack for chat %d, got %+v", res.ChatID, ack)
	}
	if f.id.calls != 1 {
		t.Fatalf("expected a single identity, got %d", f.id.calls)
	}
	if f.count(t, &chat.Request{}) != 1 {
		t.Fatalf("expected exactly one request")
	}
}

func TestProvision_RetryReusesIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "p")

	if err := f.db.Migrator().DropTable(&chat.Request{}); err != nil {
		t.Fatalf("drop requests: %v", err)
	}
	if _, err := f.conf.Handle(ctx, ev); err == nil {
		t.Fatalf("expected request creation failure")
	}
	if f.count(t, &chat.Chat{}) != 0 {
		t.Fatalf("expected chat insert to roll back with the request")
	}

	if err := f.db.AutoMigrate(&chat.Request{}); err != nil {
		t.Fatalf("recreate requests: %v", err)
	}
	ack, err := f.conf.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ack.UserID != "user-1" || f.id.calls != 1 {
		t.Fatalf("expected retry to reuse user-1, got %q after %d sign-ins", ack.UserID, f.id.calls)
	}
}

func TestProvision_InFlight(t *testing.T) {
	f := newFixture(t)
	f.prov.locker = heldLocker{}
	ev := f.paidEvent(t, []string{"https://x/a.png"}, "p")

	if _, err := f.conf.Handle(context.Background(), ev); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if f.id.calls != 0 {
		t.Fatalf("expected no identity while another delivery holds the lock")
	}
}

func TestSessions_UserForCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepo(f.db)
	s := NewSessions(repo)

	if _, err := s.UserForCheckout(ctx, "cs_missing"); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("expected ErrMappingNotFound, got %v", err)
	}

	if err := repo.InsertPaymentSession(ctx, &PaymentSession{StripeSessionsID: "cs_no_tokens", UserID: "u"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.UserForCheckout(ctx, "cs_no_tokens"); !errors.Is(err, ErrMappingIncomplete) {
		t.Fatalf("expected ErrMappingIncomplete, got %v", err)
	}

	ev := f.paidEvent(t, []string{"https://x/a.png"}, "p")
	if _, err := f.conf.Handle(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	u, err := s.UserForCheckout(ctx, ev.Session.ID)
	if err != nil {
		t.Fatalf("user for checkout: %v", err)
	}
	if u.UserID != "user-1" || u.AccessToken != "access" || u.RefreshToken != "refresh" {
		t.Fatalf("unexpected session user %+v", u)
	}
	if u.ExpiresAt == nil || *u.ExpiresAt != 1700000000 {
		t.Fatalf("unexpected expiry %v", u.ExpiresAt)
	}
}

type delayed struct {
	queue string
	msg   ReconcileMessage
	delay time.Duration
}

type recordingRequeuer struct {
	msgs []delayed
}

func (r *recordingRequeuer) PublishDelayed(ctx context.Context, queue string, v any, delay time.Duration) error {
	r.msgs = append(r.msgs, delayed{queue: queue, msg: v.(ReconcileMessage), delay: delay})
	return nil
}

func reconcileBody(t *testing.T, m ReconcileMessage) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestReconciler_RetriesThenGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rq := &recordingRequeuer{}
	r := NewReconciler(f.prov, rq, "provision_reconcile", 2)

	if err := f.db.Migrator().DropTable(&chat.Chat{}); err != nil {
		t.Fatalf("drop chats: %v", err)
	}
	m := ReconcileMessage{SessionID: "cs_1", UserID: "u1", ImageURLs: []string{"https://x/a.png"}, Prompt: "p", Attempt: 1}

	if err := r.Handle(ctx, reconcileBody(t, m)); err != nil {
		t.Fatalf("first attempt should requeue, got %v", err)
	}
	if len(rq.msgs) != 1 || rq.msgs[0].msg.Attempt != 2 || rq.msgs[0].delay != Backoff(1) {
		t.Fatalf("unexpected requeue %+v", rq.msgs)
	}

	if err := r.Handle(ctx, reconcileBody(t, rq.msgs[0].msg)); !errors.Is(err, ErrGiveUp) {
		t.Fatalf("expected ErrGiveUp after max attempts, got %v", err)
	}
}

func TestReconciler_CompletesProvisioning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := NewReconciler(f.prov, &recordingRequeuer{}, "provision_reconcile", 3)

	m := ReconcileMessage{SessionID: "cs_1", UserID: "u1", ImageURLs: []string{"https://x/a.png"}, Prompt: "p", Attempt: 1}
	if err := r.Handle(ctx, reconcileBody(t, m)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// a duplicate delivery is acked without another chat
	if err := r.Handle(ctx, reconcileBody(t, m)); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}
	if n := f.count(t, &chat.Chat{}); n != 1 {
		t.Fatalf("expected 1 chat, got %d", n)
	}
	if f.id.calls != 0 {
		t.Fatalf("reconciler must not create identities")
	}
}

func TestReconciler_BadMessage(t *testing.T) {
	f := newFixture(t)
	r := NewReconciler(f.prov, &recordingRequeuer{}, "provision_reconcile", 3)
	if err := r.Handle(context.Background(), []byte(`{"session_id":""}`)); !errors.Is(err, ErrGiveUp) {
		t.Fatalf("expected ErrGiveUp, got %v", err)
	}
}

func TestReconciler_StoppedConsumerKeepsAttempt(t *testing.T) {
	f := newFixture(t)
	rq := &recordingRequeuer{}
	r := NewReconciler(f.prov, rq, "provision_reconcile", 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// last attempt: with a live context this would be dead-lettered
	m := ReconcileMessage{SessionID: "cs_1", UserID: "u1", ImageURLs: []string{"https://x/a.png"}, Prompt: "p", Attempt: 2}
	err := r.Handle(ctx, reconcileBody(t, m))
	if err == nil || errors.Is(err, ErrGiveUp) {
		t.Fatalf("expected a requeue error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rq.msgs) != 0 {
		t.Fatalf("expected no delayed retry, got %+v", rq.msgs)
	}
	if n := f.count(t, &chat.Chat{}); n != 0 {
		t.Fatalf("expected no chat, got %d", n)
	}
}

func TestBackoff(t *testing.T) {
	if Backoff(1) != 5*time.Second || Backoff(2) != 20*time.Second || Backoff(100) != 5*time.Minute {
		t.Fatalf("unexpected backoff %v %v %v", Backoff(1), Backoff(2), Backoff(100))
	}
}
