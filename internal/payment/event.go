package payment

import (
	"encoding/json"
	"fmt"
)

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// DecodeEvent parses an event body without verifying it. Callers verify
// first, except on the development bypass path.
func DecodeEvent(payload []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return decodeObject(env.ID, env.Type, env.Data.Object)
}

func decodeObject(id, typ string, raw json.RawMessage) (*Event, error) {
	ev := &Event{ID: id, Type: typ}
	if typ != EventCheckoutSessionCompleted {
		return ev, nil
	}
	var obj checkoutObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
	}
	if obj.Metadata == nil {
		obj.Metadata = map[string]string{}
	}
	ev.Session = &CheckoutSession{
		ID:            obj.ID,
		URL:           obj.URL,
		PaymentStatus: obj.PaymentStatus,
		Metadata:      obj.Metadata,
	}
	return ev, nil
}
