package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNoImages        = errors.New("at least one image is required")
	ErrTooManyImages   = errors.New("too many images")
	ErrInvalidImageURL = errors.New("invalid image url")
)

const (
	ProductName          = "AI Image Transformation"
	descriptionLimit     = 100
	defaultPromptLimit   = 450
	defaultMaxImages     = 3
	checkoutSessionToken = "{CHECKOUT_SESSION_ID}"
)

type CheckoutInput struct {
	ImageURLs []string
	Prompt    string
	UserID    string
}

type LineItem struct {
	Name        string
	Description string
	Images      []string
	UnitAmount  int64
	Currency    string
	Quantity    int64
}

// CheckoutParams is a provider-neutral checkout session request.
type CheckoutParams struct {
	LineItem   LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type BuilderConfig struct {
	UnitAmount  int64
	Currency    string
	MaxImages   int
	PromptLimit int
}

// Builder turns an upload + prompt into a checkout session whose metadata
// carries everything fulfillment needs.
type Builder struct {
	gw  Gateway
	cfg BuilderConfig
}

func NewBuilder(gw Gateway, cfg BuilderConfig) *Builder {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	if cfg.PromptLimit <= 0 || cfg.PromptLimit > MaxMetadataValue {
		cfg.PromptLimit = defaultPromptLimit
	}
	if cfg.UnitAmount <= 0 {
		cfg.UnitAmount = 100
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Builder{gw: gw, cfg: cfg}
}

func (b *Builder) Build(origin string, in CheckoutInput) (*CheckoutParams, error) {
	if len(in.ImageURLs) == 0 {
		return nil, ErrNoImages
	}
	if len(in.ImageURLs) > b.cfg.MaxImages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyImages, len(in.ImageURLs), b.cfg.MaxImages)
	}
	for i, u := range in.ImageURLs {
		if err := validateImageURL(u); err != nil {
			return nil, fmt.Errorf("%w: images[%d]: %v", ErrInvalidImageURL, i, err)
		}
	}

	md := map[string]string{
		KeySchemaVersion: MetadataSchemaVersion,
		KeyPrompt:        Truncate(in.Prompt, b.cfg.PromptLimit),
	}
	EncodeImages(md, in.ImageURLs)
	if in.UserID != "" {
		md[KeyUserID] = in.UserID
	}

	desc := in.Prompt
	if len([]rune(desc)) > descriptionLimit {
		desc = Truncate(desc, descriptionLimit) + "..."
	}

	origin = strings.TrimRight(origin, "/")
	return &CheckoutParams{
		LineItem: LineItem{
			Name:        ProductName,
			Description: desc,
			// the hosted page shows one preview image
			Images:     in.ImageURLs[:1],
			UnitAmount: b.cfg.UnitAmount,
			Currency:   b.cfg.Currency,
			Quantity:   1,
		},
		SuccessURL: origin + "/payment-success?session_id=" + checkoutSessionToken,
		CancelURL:  origin,
		Metadata:   md,
	}, nil
}

// Create builds the params and opens the checkout session with the provider.
func (b *Builder) Create(ctx context.Context, origin string, in CheckoutInput) (*CheckoutSession, error) {
	p, err := b.Build(origin, in)
	if err != nil {
		return nil, err
	}
	return b.gw.CreateCheckoutSession(ctx, p)
}

func validateImageURL(raw string) error {
	if raw == "" {
		return errors.New("empty")
	}
	if len([]rune(raw)) > MaxMetadataValue {
		return fmt.Errorf("longer than %d characters", MaxMetadataValue)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
