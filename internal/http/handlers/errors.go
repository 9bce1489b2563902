// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them. Generic
// codes mirror HTTP status semantics; domain codes name the dispatch outcome
// that the status alone cannot convey (a 409 on accept is always
// already_claimed).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_claimed",
//	  "message": "request already accepted by another specialist"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeAlreadyClaimed    = "already_claimed"
	ErrCodeUnknownSpecialist = "unknown_specialist"
	ErrCodeMissingIdentity   = "missing_specialist_id"
	ErrCodeUnsupportedPhoto  = "unsupported_photo"
	ErrCodeSubmitFailed      = "submit_failed"
	ErrCodeClaimFailed       = "claim_failed"
	ErrCodeListFailed        = "list_failed"
)
