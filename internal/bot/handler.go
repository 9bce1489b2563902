// Package bot routes inbound messaging-channel events to the services.
//
// Handler is transport-neutral: it takes an identity plus the text or
// callback token, and answers through a notify.Gateway. Poller adapts the
// Telegram long-polling API onto a Handler.
package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/notify"
	"github.com/tbourn/go-dispatch-backend/internal/services"
)

// MainMenu is the reply keyboard shown on /start.
var MainMenu = [][]string{{services.ButtonRegister}, {services.ButtonProfile}}

// Dialogue is the registration conversation.
type Dialogue interface {
	Start(ctx context.Context, identity string) (services.Reply, error)
	Answer(ctx context.Context, identity, text string) (services.Reply, error)
	Profile(ctx context.Context, identity string) (*domain.Specialist, error)
}

// Claimer resolves accept actions.
type Claimer interface {
	Claim(ctx context.Context, requestID, identity string) (*services.ClaimResult, error)
}

// Handler dispatches bot input.
type Handler struct {
	Dialogue Dialogue
	Claimer  Claimer
	Gateway  notify.Gateway
}

// NewHandler wires a Handler.
func NewHandler(d Dialogue, c Claimer, gw notify.Gateway) *Handler {
	return &Handler{Dialogue: d, Claimer: c, Gateway: gw}
}

// HandleText processes a text message or command from identity.
func (h *Handler) HandleText(ctx context.Context, identity, text string) error {
	text = strings.TrimSpace(text)
	switch cmd := command(text); {
	case cmd == "start":
		return h.send(ctx, identity, services.Reply{Text: "Welcome! Choose an action:", Keyboard: MainMenu})

	case cmd == "register" || text == services.ButtonRegister:
		reply, err := h.Dialogue.Start(ctx, identity)
		if err != nil && !errors.Is(err, services.ErrDuplicateRegistration) {
			return err
		}
		return h.send(ctx, identity, reply)

	case cmd == "profile" || text == services.ButtonProfile:
		sp, err := h.Dialogue.Profile(ctx, identity)
		if errors.Is(err, services.ErrUnknownSpecialist) {
			return h.send(ctx, identity, services.Reply{Text: "You are not registered as a specialist yet.", Keyboard: MainMenu})
		}
		if err != nil {
			return err
		}
		return h.send(ctx, identity, services.Reply{Text: services.ProfileText(sp)})

	case cmd != "":
		return h.send(ctx, identity, services.Reply{Text: "Unknown command. Use /start."})
	}

	reply, err := h.Dialogue.Answer(ctx, identity, text)
	switch {
	case errors.Is(err, services.ErrNoDialogue):
		// Free text outside a dialogue is ignored.
		return nil
	case errors.Is(err, services.ErrInvalidAnswer):
		log.Ctx(ctx).Debug().Err(err).Str("identity", identity).Msg("dialogue answer rejected")
	case err != nil:
		return err
	}
	return h.send(ctx, identity, reply)
}

// HandleCallback processes an inline action token and returns the short
// acknowledgement to show the presser. Claim outcomes are already delivered
// to the presser by the coordinator.
func (h *Handler) HandleCallback(ctx context.Context, identity, data string) (string, error) {
	requestID, ok := services.ParseAcceptToken(data)
	if !ok {
		return "Unknown action.", nil
	}
	_, err := h.Claimer.Claim(ctx, requestID, identity)
	switch {
	case err == nil:
		return "Order accepted.", nil
	case errors.Is(err, services.ErrAlreadyClaimed), errors.Is(err, services.ErrRequestNotFound):
		return "Order no longer available.", nil
	case errors.Is(err, services.ErrUnknownSpecialist):
		return "Not registered.", nil
	default:
		return "Something went wrong.", err
	}
}

func (h *Handler) send(ctx context.Context, identity string, r services.Reply) error {
	if r.Text == "" {
		return nil
	}
	return h.Gateway.Send(ctx, notify.Message{To: identity, Text: r.Text, Keyboard: r.Keyboard})
}

// command returns the bot command name in text ("/start@MyBot x" -> "start"),
// or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd)
}
