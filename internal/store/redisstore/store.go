package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix     = "lock:"
	metadataPrefix = "checkout:metadata:"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// release only deletes the key if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes a best-effort mutex on key for ttl. ok=false means someone
// else holds it.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, false, err
	}
	token := hex.EncodeToString(b)
	k := lockPrefix + key

	ok, err = s.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// detached from the request ctx so a cancelled caller still unlocks
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, s.rdb, []string{k}, token).Err()
	}, true, nil
}

func (s *Store) GetMetadata(ctx context.Context, sessionID string) (map[string]string, bool, error) {
	raw, err := s.rdb.Get(ctx, metadataPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var md map[string]string
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, false, err
	}
	return md, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, sessionID string, md map[string]string, ttl time.Duration) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, metadataPrefix+sessionID, raw, ttl).Err()
}

func (s *Store) DeleteMetadata(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, metadataPrefix+sessionID).Err()
}
