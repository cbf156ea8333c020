// Package transport defines the outbound message contract shared by the
// notifier and the alert log sink.
package transport

import "context"

// ChatTarget addresses a chat and, for forum groups, a topic thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // 0 if none
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a single text message. Implementations must honour ctx.
type Sender interface {
	Name() string
	SendText(ctx context.Context, text string, opt *SendOptions) error
}
