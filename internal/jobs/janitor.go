// Package jobs runs periodic maintenance on a cron schedule.
//
// The Janitor purges registration dialogue sessions and idempotency records
// whose expiry has passed. Both tables only ever grow otherwise: sessions
// abandoned mid-dialogue and idempotency keys outlive their usefulness once
// their TTL elapses.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// DefaultSchedule runs the sweep every ten minutes.
const DefaultSchedule = "@every 10m"

// Result reports what one sweep removed.
type Result struct {
	Sessions    int64
	Idempotency int64
}

// Janitor sweeps expired rows on a schedule.
type Janitor struct {
	DB       *gorm.DB
	Schedule string
	// Now is the sweep clock. Defaults to time.Now.
	Now func() time.Time
}

// NewJanitor validates schedule (standard 5-field cron or a descriptor such
// as "@every 5m") and returns a Janitor. An empty schedule uses
// DefaultSchedule.
func NewJanitor(db *gorm.DB, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return &Janitor{DB: db, Schedule: schedule, Now: time.Now}, nil
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("jobs/Janitor").Start(ctx, "RunOnce")
	defer span.End()

	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}

	var res Result
	n, err := repo.PurgeExpiredSessions(ctx, j.DB, now)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("purge sessions: %w", err)
	}
	res.Sessions = n

	n, err = repo.PurgeExpiredIdempotency(ctx, j.DB, now)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("purge idempotency: %w", err)
	}
	res.Idempotency = n

	span.SetAttributes(
		attribute.Int64("purged.sessions", res.Sessions),
		attribute.Int64("purged.idempotency", res.Idempotency),
	)
	return res, nil
}

// Start runs the sweep on Schedule until ctx is done, then waits for a
// running sweep to finish.
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(j.Schedule, func() {
		res, err := j.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("janitor sweep failed")
			return
		}
		if res.Sessions > 0 || res.Idempotency > 0 {
			log.Info().
				Int64("sessions", res.Sessions).
				Int64("idempotency", res.Idempotency).
				Msg("janitor sweep")
		}
	})
	if err != nil {
		return err
	}

	log.Info().Str("schedule", j.Schedule).Msg("janitor started")
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	log.Info().Msg("janitor stopped")
	return nil
}
