// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure leaves the API as an ErrorResponse carrying a stable code
// from errors.go and the X-Request-ID of the call, so a specialist app or
// the web form can show the message while operators grep the logs by id:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "already_claimed",
//	  "message": "request already accepted by another specialist"
//	}
//
// Successful calls write their DTO directly, e.g. a submission:
//
//	HTTP/1.1 201 Created
//	{ "id": "4f7c…", "status": "new" }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope of every dispatch endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// One of the ErrCode* constants
	Code string `json:"code" example:"already_claimed"`
	// Safe to show to the client or specialist
	Message string `json:"message" example:"request already accepted by another specialist"`
}

// fail aborts the chain with an ErrorResponse. 5xx outcomes are also logged
// on the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	if reqID == "" {
		reqID = middleware.GetRequestID(c)
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("dispatch api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: reqID, Code: code, Message: msg})
}

// Fail lets the router answer NoRoute/NoMethod in the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }
