package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UpdatesAPI is the subset of *tgbotapi.BotAPI the poller uses.
type UpdatesAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Poller long-polls Telegram and hands every update to Handler on its own
// goroutine.
type Poller struct {
	API     UpdatesAPI
	Handler *Handler
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// HandleTimeout bounds the processing of one update.
	HandleTimeout time.Duration

	wg sync.WaitGroup
}

// NewPoller wires a Poller with defaults for zero values.
func NewPoller(api UpdatesAPI, h *Handler, pollTimeout int, handleTimeout time.Duration) *Poller {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	if handleTimeout <= 0 {
		handleTimeout = 30 * time.Second
	}
	return &Poller{API: api, Handler: h, PollTimeout: pollTimeout, HandleTimeout: handleTimeout}
}

// Run consumes updates until ctx is done, then waits for in-flight
// handlers.
func (p *Poller) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.PollTimeout
	updates := p.API.GetUpdatesChan(u)

	log.Info().Int("poll_timeout", p.PollTimeout).Msg("telegram poller started")
	defer func() {
		p.API.StopReceivingUpdates()
		p.wg.Wait()
		log.Info().Msg("telegram poller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.handle(ctx, upd)
			}()
		}
	}
}

func (p *Poller) handle(parent context.Context, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.HandleTimeout)
	defer cancel()

	l := log.With().Int("update_id", upd.UpdateID).Logger()
	ctx = l.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("update handler panicked")
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		p.handleCallback(ctx, &l, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		identity := strconv.FormatInt(upd.Message.From.ID, 10)
		if err := p.Handler.HandleText(ctx, identity, upd.Message.Text); err != nil {
			l.Error().Err(err).Str("identity", identity).Msg("text update failed")
		}
	}
}

func (p *Poller) handleCallback(ctx context.Context, l *zerolog.Logger, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	identity := strconv.FormatInt(q.From.ID, 10)
	ack, err := p.Handler.HandleCallback(ctx, identity, q.Data)
	if err != nil {
		l.Error().Err(err).Str("identity", identity).Str("data", q.Data).Msg("callback failed")
	}
	if _, err := p.API.Request(tgbotapi.NewCallback(q.ID, ack)); err != nil {
		l.Warn().Err(err).Msg("answer callback failed")
	}
}
