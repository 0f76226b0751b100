package transport

import "context"

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// User identifies the sender of an incoming command.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// Sender is the outbound messaging capability the relay depends on.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error

	// SendPhoto sends a photo by URL. An empty caption sends a bare photo.
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) error
}
