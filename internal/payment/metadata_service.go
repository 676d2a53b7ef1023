package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrMissingUpdateFields = errors.New("userId or chatId is required")

// MetadataCache is a short-lived read cache in front of the provider.
type MetadataCache interface {
	GetMetadata(ctx context.Context, sessionID string) (map[string]string, bool, error)
	SetMetadata(ctx context.Context, sessionID string, md map[string]string, ttl time.Duration) error
	DeleteMetadata(ctx context.Context, sessionID string) error
}

// SessionMetadata is checkout metadata with the indexed image keys folded
// into ImagesURL.
type SessionMetadata struct {
	Fields    map[string]string
	ImagesURL []string
}

func (m SessionMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	urls := m.ImagesURL
	if urls == nil {
		urls = []string{}
	}
	out["imagesUrl"] = urls
	return json.Marshal(out)
}

type MetadataService struct {
	gw    Gateway
	cache MetadataCache
	ttl   time.Duration
}

// NewMetadataService builds the service; cache may be nil.
func NewMetadataService(gw Gateway, cache MetadataCache) *MetadataService {
	return &MetadataService{gw: gw, cache: cache, ttl: 30 * time.Second}
}

func (s *MetadataService) Read(ctx context.Context, sessionID string) (*SessionMetadata, error) {
	md, err := s.raw(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	urls, derr := ImagesFromMetadata(md)
	if derr != nil {
		log.Warn().Err(derr).Str("session_id", sessionID).Msg("checkout metadata image keys are not contiguous")
	}
	return &SessionMetadata{Fields: StripImageKeys(md), ImagesURL: urls}, nil
}

// Update merges userID and/or chatID into the session metadata and returns
// the provider's merged map.
func (s *MetadataService) Update(ctx context.Context, sessionID, userID, chatID string) (map[string]string, error) {
	if userID == "" && chatID == "" {
		return nil, ErrMissingUpdateFields
	}

	current, err := s.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	merged := copyMap(current.Metadata)
	if userID != "" {
		merged[KeyUserID] = userID
	}
	if chatID != "" {
		merged[KeyChatID] = chatID
	}

	updated, err := s.gw.UpdateMetadata(ctx, sessionID, merged)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.DeleteMetadata(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("metadata cache invalidation failed")
		}
	}
	return updated.Metadata, nil
}

// PaymentStatus returns the provider's payment_status for the session.
func (s *MetadataService) PaymentStatus(ctx context.Context, sessionID string) (string, error) {
	cs, err := s.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return cs.PaymentStatus, nil
}

func (s *MetadataService) raw(ctx context.Context, sessionID string) (map[string]string, error) {
	if s.cache != nil {
		md, ok, err := s.cache.GetMetadata(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("metadata cache read failed")
		} else if ok {
			return md, nil
		}
	}

	cs, err := s.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetMetadata(ctx, sessionID, cs.Metadata, s.ttl); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("metadata cache write failed")
		}
	}
	return cs.Metadata, nil
}
