package notifier

import (
	"context"

	"x402watch/internal/transport"
	"x402watch/pkg/logx"
)

// LogSender writes notifications to the log at info level.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log.With(logx.String("sink", "log"))}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) SendText(ctx context.Context, text string, _ *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("\n" + text)
	return nil
}
