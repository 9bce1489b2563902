package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logFrom returns the logger carried by ctx (attached by the HTTP logging
// middleware or the bot), falling back to the global logger.
func logFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
