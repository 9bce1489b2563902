package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Notification kinds, used as the "kind" metric label.
const (
	KindNewRequest = "new_request"
	KindTaken      = "taken"
	KindWinner     = "winner"
	KindLoser      = "loser"
	KindDialogue   = "dialogue"
	KindNotice     = "notice"
)

var (
	// notificationsTotal counts delivery attempts by kind and outcome
	// ("sent" or "failed").
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Outbound notifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// notificationLat records per-recipient send latency in seconds.
	notificationLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_notification_duration_seconds",
			Help:    "Duration of a single recipient delivery in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, notificationLat)
}

// Report summarises one fan-out.
type Report struct {
	Sent   int
	Failed int
}

// Fanout delivers messages concurrently through Gateway.
//
// Each recipient is isolated: a failing or slow send is logged, counted and
// abandoned after Timeout without affecting the other recipients. Deliver
// never returns an error.
type Fanout struct {
	Gateway Gateway
	// Workers bounds concurrent sends. Zero or negative means 8.
	Workers int
	// Timeout bounds a single recipient's delivery. Zero disables it.
	Timeout time.Duration
}

// NewFanout constructs a Fanout with the given limits.
func NewFanout(gw Gateway, workers int, timeout time.Duration) *Fanout {
	return &Fanout{Gateway: gw, Workers: workers, Timeout: timeout}
}

// Deliver sends every message in msgs and waits for all of them to finish.
func (f *Fanout) Deliver(ctx context.Context, kind string, msgs []Message) Report {
	if len(msgs) == 0 {
		return Report{}
	}
	workers := f.Workers
	if workers <= 0 {
		workers = 8
	}

	sent := make([]bool, len(msgs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range msgs {
		g.Go(func() error {
			sent[i] = f.One(ctx, kind, msgs[i]) == nil
			return nil
		})
	}
	_ = g.Wait()

	var rep Report
	for _, ok := range sent {
		if ok {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}
	return rep
}

// One delivers a single message with the configured timeout, recording the
// outcome. The error is returned for callers that reply to the current actor.
func (f *Fanout) One(ctx context.Context, kind string, m Message) error {
	sctx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := f.Gateway.Send(sctx, m)
	notificationLat.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		notificationsTotal.WithLabelValues(kind, "failed").Inc()
		log.Warn().
			Err(err).
			Str("kind", kind).
			Str("to", m.To).
			Msg("notify: delivery failed")
		return err
	}
	notificationsTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}
