// Package services defines the business logic for dispatching service
// requests to specialists. This file centralizes service-level error values
// so that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler (or bot) layer.
package services

import "errors"

var (
	// ErrValidation is returned (wrapped with field detail) when a submission
	// or registration answer is malformed. It never reaches the coordinator.
	ErrValidation = errors.New("validation failed")

	// ErrRequestNotFound indicates that the request id is unknown.
	ErrRequestNotFound = errors.New("request not found")

	// ErrUnknownSpecialist indicates that the identity presenting an accept
	// action is not a registered specialist.
	ErrUnknownSpecialist = errors.New("unknown specialist")

	// ErrAlreadyClaimed is the expected losing outcome of a claim: another
	// specialist's conditional update matched first.
	ErrAlreadyClaimed = errors.New("request already claimed")

	// ErrDuplicateRegistration is returned when an identity that already has
	// a Specialist record tries to register again.
	ErrDuplicateRegistration = errors.New("specialist already registered")

	// ErrNoDialogue is returned when a free-text answer arrives for an
	// identity with no live registration dialogue.
	ErrNoDialogue = errors.New("no registration in progress")

	// ErrInvalidAnswer is returned when a dialogue answer is rejected; the
	// accompanying reply re-prompts for the same step.
	ErrInvalidAnswer = errors.New("invalid answer")
)
