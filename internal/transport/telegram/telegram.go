// Package telegram is a send-only Telegram transport built on telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"x402watch/internal/transport"
	"x402watch/pkg/logx"
)

// messageLimit stays under the Bot API's 4096 character cap.
const messageLimit = 4000

// maxPartial bounds how many partly sent messages are remembered.
const maxPartial = 64

type Config struct {
	Token   string
	Target  transport.ChatTarget
	Timeout time.Duration // per Bot API call
	URL     string        // Bot API endpoint override
}

// Sender posts messages to one chat, or one forum topic of it.
type Sender struct {
	target transport.ChatTarget
	log    logx.Logger
	bot    *tele.Bot

	mu      sync.Mutex
	partial map[string]int // text -> parts already delivered
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	switch {
	case strings.TrimSpace(cfg.Token) == "":
		return nil, errors.New("telegram token is empty")
	case cfg.Target.ChatID == 0:
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Offline: no getMe on construction, no update polling.
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{
		target:  cfg.Target,
		log:     log.With(logx.String("sink", "telegram")),
		bot:     bot,
		partial: make(map[string]int),
	}, nil
}

func (s *Sender) Name() string { return "telegram" }

// SendText posts text, split into several messages when it is too long.
// When a later part fails, a retry of the same text resumes from that part.
func (s *Sender) SendText(ctx context.Context, text string, opt *transport.SendOptions) error {
	var o transport.SendOptions
	if opt != nil {
		o = *opt
	}
	chat := &tele.Chat{ID: s.target.ChatID}
	parts := splitText(text, messageLimit)

	for i := s.resumeAt(text); i < len(parts); i++ {
		if err := ctx.Err(); err != nil {
			s.markPartial(text, i)
			return err
		}
		_, err := s.bot.Send(chat, parts[i], &tele.SendOptions{
			ParseMode:             o.ParseMode,
			DisableWebPagePreview: o.DisablePreview,
			ThreadID:              s.target.ThreadID,
		})
		if err != nil {
			s.log.Debug("telegram send failed", logx.Int("part", i+1), logx.Int("parts", len(parts)), logx.Err(err))
			s.markPartial(text, i)
			return err
		}
	}
	s.markPartial(text, 0)
	return nil
}

func (s *Sender) resumeAt(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial[text]
}

// markPartial records that the first n parts of text were delivered.
// n == 0 forgets text.
func (s *Sender) markPartial(text string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == 0 {
		delete(s.partial, text)
		return
	}
	if _, ok := s.partial[text]; !ok && len(s.partial) >= maxPartial {
		clear(s.partial)
	}
	s.partial[text] = n
}

// splitText packs whole lines into parts of at most limit runes. A line
// longer than limit is cut into limit-sized pieces.
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > limit {
			flush()
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
		}
		ln := utf8.RuneCountInString(line)
		if n > 0 && n+1+ln > limit {
			flush()
		}
		if n > 0 {
			cur.WriteByte('\n')
			n++
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return parts
}
