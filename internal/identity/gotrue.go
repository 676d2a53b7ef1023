package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GoTrueProvider signs users in anonymously against a Supabase Auth (GoTrue)
// server.
type GoTrueProvider struct {
	BaseURL string
	AnonKey string
	Client  *http.Client
}

type goTrueSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *struct {
		ID string `json:"id"`
	} `json:"user"`
	Msg string `json:"msg,omitempty"`
}

func NewGoTrueProvider(baseURL, anonKey string) *GoTrueProvider {
	return &GoTrueProvider{
		BaseURL: baseURL,
		AnonKey: anonKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *GoTrueProvider) SignInAnonymously(ctx context.Context) (*Identity, error) {
	if p.Client == nil {
		return nil, errors.New("gotrue: http client is nil")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return nil, errors.New("gotrue: base url is required")
	}

	url := fmt.Sprintf("%s/auth/v1/signup", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.AnonKey != "" {
		req.Header.Set("apikey", p.AnonKey)
		req.Header.Set("Authorization", "Bearer "+p.AnonKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("gotrue: %s", msg)
	}

	var decoded goTrueSession
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.User == nil || decoded.User.ID == "" {
		return nil, ErrNoUser
	}

	expiresAt := decoded.ExpiresAt
	if expiresAt == 0 && decoded.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + decoded.ExpiresIn
	}
	id := &Identity{
		UserID:       decoded.User.ID,
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}
