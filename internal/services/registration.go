// Package services – Registration
//
// This file implements the specialist self-registration dialogue: a
// four-step conversation (name, specialization, districts, phone) carried
// over the messaging channel. Progress lives in a SessionStore keyed by the
// channel identity, so concurrent dialogues of different identities never
// interact and a restart does not lose answers. Sessions expire after TTL.
//
// Each answer advances the session with a conditional update on
// (identity, current step). An answer that loses that race, or arrives for a
// step already passed, is ignored and produces an empty Reply.
//
// On the final step the session is moved to "done" (again conditionally),
// the Specialist is created and the session is deleted.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-dispatch-backend/internal/catalog"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

// Keyboard labels shared with the bot.
const (
	ButtonRegister = "Register as specialist"
	ButtonProfile  = "My profile"
)

var registrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_registrations_total",
		Help: "Registration dialogue outcomes.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(registrationsTotal)
}

// SessionStore persists registration dialogue progress.
type SessionStore interface {
	Start(ctx context.Context, identity string, ttl time.Duration) (*domain.DialogueSession, error)
	Get(ctx context.Context, identity string, now time.Time) (*domain.DialogueSession, error)
	Advance(ctx context.Context, identity string, from domain.DialogueStep, next *domain.DialogueSession, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, identity string) error
}

// Reply is what the bot should send back. An empty Text means send nothing.
// A non-nil Keyboard replaces the user's reply keyboard; an empty one
// removes it.
type Reply struct {
	Text     string
	Keyboard [][]string
}

// Registration drives the registration dialogue.
type Registration struct {
	Specialists SpecialistDirectory
	Sessions    SessionStore
	// TTL bounds how long an idle dialogue survives.
	TTL time.Duration
	// Locale drives title-casing of names and districts.
	Locale language.Tag
	// Now is the clock used for session expiry. Defaults to time.Now.
	Now func() time.Time
}

// NewRegistration wires a Registration with sane defaults.
func NewRegistration(sd SpecialistDirectory, ss SessionStore, ttl time.Duration) *Registration {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registration{Specialists: sd, Sessions: ss, TTL: ttl, Locale: language.English, Now: time.Now}
}

// Start opens (or restarts) the dialogue for identity. Registered
// identities get ErrDuplicateRegistration.
func (g *Registration) Start(ctx context.Context, identity string) (Reply, error) {
	tr := otel.Tracer("services/Registration")
	ctx, span := tr.Start(ctx, "Start", trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	if _, err := g.Specialists.FindByIdentity(ctx, identity); err == nil {
		registrationsTotal.WithLabelValues("duplicate").Inc()
		return Reply{Text: "You are already registered as a specialist."}, ErrDuplicateRegistration
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Reply{}, err
	}

	if _, err := g.Sessions.Start(ctx, identity, g.TTL); err != nil {
		return Reply{}, err
	}
	registrationsTotal.WithLabelValues("started").Inc()
	return Reply{Text: "Enter your full name:", Keyboard: [][]string{}}, nil
}

// Answer applies one free-text answer to identity's dialogue.
//
// It returns ErrNoDialogue when no live session exists, and ErrInvalidAnswer
// (with a re-prompt Reply) when the answer is rejected.
func (g *Registration) Answer(ctx context.Context, identity, text string) (Reply, error) {
	tr := otel.Tracer("services/Registration")
	ctx, span := tr.Start(ctx, "Answer", trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	s, err := g.Sessions.Get(ctx, identity, g.now())
	if errors.Is(err, repo.ErrNotFound) {
		return Reply{}, ErrNoDialogue
	}
	if err != nil {
		return Reply{}, err
	}
	span.SetAttributes(attribute.String("step", string(s.Step)))

	text = strings.TrimSpace(text)
	next := *s
	next.Step = s.Step.Next()
	var reply Reply

	switch s.Step {
	case domain.StepName:
		name := g.title(strings.Join(strings.Fields(text), " "))
		if name == "" || utf8.RuneCountInString(name) > 255 {
			return Reply{Text: "Please enter your full name:"}, fmt.Errorf("%w: name", ErrInvalidAnswer)
		}
		next.Name = name
		reply = Reply{Text: "Choose your specialization:", Keyboard: catalog.SpecialistTitles()}

	case domain.StepSpecialization:
		spec, ok := catalog.ParseSpecialization(text)
		if !ok {
			return Reply{Text: "Please choose one of the listed specializations:", Keyboard: catalog.SpecialistTitles()},
				fmt.Errorf("%w: specialization %q", ErrInvalidAnswer, text)
		}
		next.Specialization = spec
		reply = Reply{Text: "Enter the districts you work in (comma-separated):", Keyboard: [][]string{}}

	case domain.StepDistricts:
		districts := g.splitDistricts(text)
		if len(districts) == 0 {
			return Reply{Text: "Please enter at least one district (comma-separated):"}, fmt.Errorf("%w: districts", ErrInvalidAnswer)
		}
		next.Districts = districts
		reply = Reply{Text: "Enter your phone number:"}

	case domain.StepPhone:
		if !IsPhone(text) {
			return Reply{Text: "Please enter a valid phone number, e.g. +15551234567:"}, fmt.Errorf("%w: phone", ErrInvalidAnswer)
		}
		return g.complete(ctx, identity, s, text)

	default:
		return Reply{}, nil
	}

	ok, err := g.Sessions.Advance(ctx, identity, s.Step, &next, g.TTL)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		// Another answer for this step won.
		return Reply{}, nil
	}
	return reply, nil
}

// complete claims the final step, persists the Specialist and drops the
// session.
func (g *Registration) complete(ctx context.Context, identity string, s *domain.DialogueSession, phone string) (Reply, error) {
	done := *s
	done.Step = domain.StepDone
	ok, err := g.Sessions.Advance(ctx, identity, domain.StepPhone, &done, g.TTL)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, nil
	}

	sp := &domain.Specialist{
		Identity:       identity,
		Name:           s.Name,
		Specialization: s.Specialization,
		Districts:      s.Districts,
		Phone:          phone,
		Active:         true,
	}
	if err := validateStruct(sp); err != nil {
		_ = g.Sessions.Delete(ctx, identity)
		return Reply{Text: "Registration failed, please start again."}, err
	}
	err = g.Specialists.Create(ctx, sp)
	if derr := g.Sessions.Delete(ctx, identity); derr != nil {
		logFrom(ctx).Warn().Err(derr).Str("identity", identity).Msg("registration: session delete failed")
	}
	if errors.Is(err, repo.ErrDuplicate) {
		registrationsTotal.WithLabelValues("duplicate").Inc()
		return Reply{Text: "You are already registered as a specialist.", Keyboard: [][]string{{ButtonProfile}}}, ErrDuplicateRegistration
	}
	if err != nil {
		return Reply{}, err
	}

	registrationsTotal.WithLabelValues("completed").Inc()
	logFrom(ctx).Info().
		Str("specialist_id", sp.ID).
		Str("specialization", string(sp.Specialization)).
		Msg("specialist registered")
	return Reply{Text: "Registration completed!", Keyboard: [][]string{{ButtonProfile}}}, nil
}

// Profile returns the specialist registered under identity, or
// ErrUnknownSpecialist.
func (g *Registration) Profile(ctx context.Context, identity string) (*domain.Specialist, error) {
	sp, err := g.Specialists.FindByIdentity(ctx, identity)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownSpecialist
	}
	return sp, err
}

// ProfileText renders a specialist profile for the chat.
func ProfileText(sp *domain.Specialist) string {
	status := "active"
	if !sp.Active {
		status = "inactive"
	}
	return fmt.Sprintf("Your profile:\nName: %s\nSpecialization: %s\nDistricts: %s\nPhone: %s\nStatus: %s",
		sp.Name, catalog.Label(sp.Specialization), strings.Join(sp.Districts, ", "), sp.Phone, status)
}

func (g *Registration) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Registration) title(s string) string {
	return cases.Title(g.Locale).String(s)
}

// splitDistricts splits a comma list, trimming and title-casing each item
// and dropping blanks and case-insensitive duplicates.
func (g *Registration) splitDistricts(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g.title(p))
	}
	return out
}
