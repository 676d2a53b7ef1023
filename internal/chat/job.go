package chat

// TransformJob is published once a paid Request exists; the external
// transform worker consumes it and eventually writes a Response.
type TransformJob struct {
	ChatID    uint64   `json:"chat_id"`
	RequestID uint64   `json:"request_id"`
	UserID    string   `json:"user_id"`
	ImageURLs []string `json:"image_urls"`
	Prompt    string   `json:"prompt"`
}
