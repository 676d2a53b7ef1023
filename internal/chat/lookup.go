package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrForbidden       = errors.New("not allowed to read this chat")
	ErrRequestNotFound = errors.New("no request found")
)

type ViewerKind int

const (
	viewerNone ViewerKind = iota
	ViewerAdmin
	ViewerOwner
	ViewerSharedSession
	ViewerShareToken
)

// Viewer is the credential a read is made with.
type Viewer struct {
	Kind        ViewerKind
	UserID      string
	SessionID   string
	TokenChatID uint64
}

func AdminViewer() Viewer                  { return Viewer{Kind: ViewerAdmin} }
func OwnerViewer(userID string) Viewer      { return Viewer{Kind: ViewerOwner, UserID: userID} }
func SessionViewer(sessionID string) Viewer { return Viewer{Kind: ViewerSharedSession, SessionID: sessionID} }
func TokenViewer(chatID uint64) Viewer      { return Viewer{Kind: ViewerShareToken, TokenChatID: chatID} }

// Lookup is the polling read path. A missing row is reported as (nil, nil):
// the transform worker has simply not written it yet.
type Lookup struct {
	repo     *Repo
	registry *Registry
}

func NewLookup(repo *Repo, registry *Registry) *Lookup {
	return &Lookup{repo: repo, registry: registry}
}

// GetRequest reads the chat's request when any of viewers may see it.
func (l *Lookup) GetRequest(ctx context.Context, chatID uint64, viewers ...Viewer) (*Request, error) {
	if err := l.authorizeAny(ctx, chatID, viewers); err != nil {
		return nil, err
	}
	req, err := l.repo.GetRequestByChat(ctx, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return req, err
}

func (l *Lookup) GetResponse(ctx context.Context, chatID uint64, viewers ...Viewer) (*Response, error) {
	if err := l.authorizeAny(ctx, chatID, viewers); err != nil {
		return nil, err
	}
	resp, err := l.repo.GetResponseByChat(ctx, chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return resp, err
}

type PublicRequest struct {
	CreatedAt time.Time                   `json:"created_at"`
	ImageURL  datatypes.JSONSlice[string] `json:"image_url"`
	Prompt    string                      `json:"prompt"`
}

type PublicResponse struct {
	CreatedAt time.Time                   `json:"created_at"`
	ImageURL  datatypes.JSONSlice[string] `json:"image_url"`
	Message   *string                     `json:"message"`
}

type SessionView struct {
	Request  PublicRequest   `json:"request"`
	Response *PublicResponse `json:"response"`
}

// Session is the server-side public view of a chat: the request plus the
// response once it exists. ErrRequestNotFound when there is no request.
func (l *Lookup) Session(ctx context.Context, chatID uint64) (*SessionView, error) {
	req, err := l.GetRequest(ctx, chatID, AdminViewer())
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}
	resp, err := l.GetResponse(ctx, chatID, AdminViewer())
	if err != nil {
		return nil, err
	}

	view := &SessionView{
		Request: PublicRequest{CreatedAt: req.CreatedAt, ImageURL: req.ImageURL, Prompt: req.Prompt},
	}
	if resp != nil {
		view.Response = &PublicResponse{CreatedAt: resp.CreatedAt, ImageURL: resp.ImageURL, Message: resp.Message}
	}
	return view, nil
}

// authorizeAny tries viewers in order and stops at the first that is allowed.
// Only ErrForbidden moves on to the next credential.
func (l *Lookup) authorizeAny(ctx context.Context, chatID uint64, viewers []Viewer) error {
	for _, v := range viewers {
		err := l.authorize(ctx, chatID, v)
		if err == nil || !errors.Is(err, ErrForbidden) {
			return err
		}
	}
	return ErrForbidden
}

func (l *Lookup) authorize(ctx context.Context, chatID uint64, v Viewer) error {
	switch v.Kind {
	case ViewerAdmin:
		return nil
	case ViewerOwner:
		if v.UserID == "" {
			return ErrForbidden
		}
		c, err := l.repo.GetChat(ctx, chatID)
		if err != nil {
			// an unknown chat is indistinguishable from someone else's
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrForbidden
			}
			return err
		}
		if c.UserID != v.UserID {
			return ErrForbidden
		}
		return nil
	case ViewerSharedSession:
		ok, err := l.registry.Allows(ctx, v.SessionID, chatID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
		return nil
	case ViewerShareToken:
		if v.TokenChatID == 0 || v.TokenChatID != chatID {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}
