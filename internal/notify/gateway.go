// Package notify delivers outbound messages to specialists over their
// messaging channel.
//
// The package defines:
//
//   - Message: a channel-neutral outbound message (text, inline actions,
//     reply keyboard, optional photo attachment).
//   - Gateway: the delivery contract. Send delivers the text first and then,
//     when PhotoPath is set, the photo as a separate attachment to the same
//     recipient. Implementations must honour ctx cancellation.
//   - Telegram: a Gateway backed by the Telegram Bot API.
//   - Log: a Gateway that only logs, used when no bot token is configured.
//   - Fanout: concurrent, per-recipient isolated delivery with a bounded
//     worker pool and a per-send timeout.
//
// Delivery is at-least-once from the caller's perspective: nothing here
// deduplicates a message that is sent twice.
package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Action is an inline button attached to a message. Data is the opaque
// token returned to the bot when the button is pressed.
type Action struct {
	Text string
	Data string
}

// Message is one outbound message to a single recipient.
type Message struct {
	// To is the recipient's channel identity.
	To string
	// Text is the message body.
	Text string
	// Actions are inline buttons, rendered one per row.
	Actions []Action
	// Keyboard replaces the recipient's reply keyboard when non-nil.
	Keyboard [][]string
	// PhotoPath is a local file sent as a separate attachment after Text.
	PhotoPath string
}

// Gateway sends a Message to its recipient.
type Gateway interface {
	Send(ctx context.Context, m Message) error
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, m Message) error

// Send calls f(ctx, m).
func (f GatewayFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Log is a Gateway that writes every message to the global zerolog logger
// and never fails. It stands in for Telegram when no bot token is set.
type Log struct{}

// Send logs m at info level. Message text is collapsed onto one line.
func (Log) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := log.Info().
		Str("to", m.To).
		Str("text", strings.Join(strings.Fields(m.Text), " ")).
		Int("actions", len(m.Actions))
	if m.PhotoPath != "" {
		ev = ev.Str("photo", m.PhotoPath)
	}
	ev.Msg("notify: message (log gateway)")
	return nil
}
