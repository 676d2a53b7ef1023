package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	release, ok, err := s.Acquire(ctx, "provision:cs_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("lock:provision:cs_1"); ttl != time.Minute {
		t.Fatalf("expected lock ttl 1m, got %v", ttl)
	}

	if _, ok, err := s.Acquire(ctx, "provision:cs_1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should fail while held: ok=%v err=%v", ok, err)
	}
	// other keys are independent
	if rel, ok, err := s.Acquire(ctx, "provision:cs_2", time.Minute); err != nil || !ok {
		t.Fatalf("other key: ok=%v err=%v", ok, err)
	} else {
		rel()
	}

	release()
	if mr.Exists("lock:provision:cs_1") {
		t.Fatalf("expected release to delete the lock")
	}
	if rel, ok, err := s.Acquire(ctx, "provision:cs_1", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	} else {
		rel()
	}
}

func TestAcquire_StaleReleaseKeepsNewHolder(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	stale, ok, err := s.Acquire(ctx, "provision:cs_1", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)

	fresh, ok, err := s.Acquire(ctx, "provision:cs_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
	held, _ := mr.Get("lock:provision:cs_1")

	// the first holder's release must not remove the second holder's lock
	stale()
	if got, err := mr.Get("lock:provision:cs_1"); err != nil || got != held {
		t.Fatalf("expected lock %q to survive stale release, got %q err=%v", held, got, err)
	}

	fresh()
	if mr.Exists("lock:provision:cs_1") {
		t.Fatalf("expected current holder to release")
	}
}

func TestAcquire_ReleaseIgnoresCancelledCaller(t *testing.T) {
	s, mr := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	release, ok, err := s.Acquire(ctx, "provision:cs_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	cancel()
	release()
	if mr.Exists("lock:provision:cs_1") {
		t.Fatalf("expected release to run after the caller's ctx is cancelled")
	}
}

func TestMetadataCache_RoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if md, ok, err := s.GetMetadata(ctx, "cs_1"); err != nil || ok || md != nil {
		t.Fatalf("expected miss, got %v %v %v", md, ok, err)
	}

	in := map[string]string{"prompt": "make it cyberpunk", "image_count": "1", "imageUrl_0": "https://x/a.png"}
	if err := s.SetMetadata(ctx, "cs_1", in, 10*time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("checkout:metadata:cs_1"); ttl != 10*time.Minute {
		t.Fatalf("expected ttl 10m, got %v", ttl)
	}

	got, ok, err := s.GetMetadata(ctx, "cs_1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != len(in) {
		t.Fatalf("got %v want %v", got, in)
	}
	for k, v := range in {
		if got[k] != v {
			t.Fatalf("key %s: got %q want %q", k, got[k], v)
		}
	}

	if err := s.DeleteMetadata(ctx, "cs_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.GetMetadata(ctx, "cs_1"); err != nil || ok {
		t.Fatalf("expected miss after delete, got ok=%v err=%v", ok, err)
	}

	// entries expire with their ttl
	if err := s.SetMetadata(ctx, "cs_2", in, time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := s.GetMetadata(ctx, "cs_2"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestMetadataCache_CorruptEntry(t *testing.T) {
	s, mr := newTestStore(t)
	if err := mr.Set("checkout:metadata:cs_1", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := s.GetMetadata(context.Background(), "cs_1"); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}
