package relay

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// Sender delivers one formatted message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// telegramMaxText is Telegram's message length limit in characters.
const telegramMaxText = 4096

// TelegramSender posts messages to a single chat (and optional forum topic).
type TelegramSender struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

func NewTelegramSender(token string, chatID int64, threadID int) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: token,
		// Send-only: no getMe round trip and no poller.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chatID: chatID, threadID: threadID}, nil
}

// Send splits text into chunks Telegram accepts and sends them in order.
// telebot has no context support; the caller bounds the call with its
// own timeout on the worker.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: s.chatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: s.threadID}
	for _, part := range splitText(text, telegramMaxText) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, part, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts text into pieces of at most max runes, preferring to break
// at a newline in the second half of a piece.
func splitText(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		for i := max - 1; i >= max/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// sendTimeout bounds a single Send call inside a worker.
const sendTimeout = 10 * time.Second
