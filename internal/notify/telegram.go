package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrBadRecipient is returned when a recipient identity is not a Telegram
// chat id.
var ErrBadRecipient = errors.New("recipient is not a telegram chat id")

// BotAPI is the subset of *tgbotapi.BotAPI used for sending.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is a Gateway that sends through the Telegram Bot API.
type Telegram struct {
	API BotAPI
}

// NewTelegramAPI authenticates token against the Bot API and returns the
// client. timeout bounds every HTTP call the client makes.
func NewTelegramAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return api, nil
}

// Send delivers m.Text (with its inline actions or reply keyboard) and then
// m.PhotoPath, if set. A failed text send skips the photo.
func (t *Telegram) Send(ctx context.Context, m Message) error {
	chatID, err := ChatID(m.To)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, m.Text)
	switch {
	case len(m.Actions) > 0:
		msg.ReplyMarkup = InlineKeyboard(m.Actions)
	case m.Keyboard != nil:
		msg.ReplyMarkup = ReplyKeyboard(m.Keyboard)
	}
	if err := t.do(ctx, msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}

	if m.PhotoPath != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(m.PhotoPath))
		if err := t.do(ctx, photo); err != nil {
			return fmt.Errorf("telegram: send photo: %w", err)
		}
	}
	return nil
}

// do runs one Bot API call, giving up when ctx is done. The underlying HTTP
// call is bounded by the client timeout and finishes in the background.
func (t *Telegram) do(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := t.API.Send(c)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatID parses a channel identity into a Telegram chat id.
func ChatID(identity string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(identity), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadRecipient, identity)
	}
	return id, nil
}

// InlineKeyboard renders actions one per row.
func InlineKeyboard(actions []Action) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(a.Text, a.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ReplyKeyboard renders a resizable reply keyboard. An empty layout removes
// the current keyboard.
func ReplyKeyboard(layout [][]string) any {
	if len(layout) == 0 {
		return tgbotapi.NewRemoveKeyboard(false)
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(layout))
	for _, r := range layout {
		row := make([]tgbotapi.KeyboardButton, 0, len(r))
		for _, label := range r {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}
