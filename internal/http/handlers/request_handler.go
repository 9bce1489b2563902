// Request HTTP handlers.
//
// This file exposes the dispatch endpoints:
//   - POST /submit-request            (form submission, Idempotency-Key aware)
//   - POST /requests/{id}/accept      (accept on behalf of X-Specialist-ID)
//   - GET  /requests/{id}             (detail)
//   - GET  /requests                  (list, paginated, ETag support)
//   - GET  /stats                     (counts per status)
//
// Handlers are transport-thin: they bind input, call application services,
// and translate results and sentinel errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/services"
	"github.com/tbourn/go-dispatch-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService is the request use case consumed by the handlers.
type RequestService interface {
	// Submit validates, stores and broadcasts a new request.
	Submit(ctx context.Context, in services.SubmitInput) (*domain.Request, error)
	// Get returns one request or services.ErrRequestNotFound.
	Get(ctx context.Context, id string) (*domain.Request, error)
	// ListPage returns a page of requests and the total count.
	ListPage(ctx context.Context, f domain.RequestFilter, page, pageSize int) ([]domain.Request, int64, error)
	// Stats returns counts per status.
	Stats(ctx context.Context) (*services.RequestStats, error)
}

// Claimer resolves accept actions.
type Claimer interface {
	Claim(ctx context.Context, requestID, identity string) (*services.ClaimResult, error)
}

// IdempotencyStore records which request a (scope, key) pair created.
type IdempotencyStore interface {
	Save(ctx context.Context, scope, key, requestID string, status int) error
}

// ListStamp returns the match count and latest update time for f; it backs
// the weak ETag on GET /requests.
type ListStamp func(ctx context.Context, f domain.RequestFilter) (count int64, maxUpdatedAt *time.Time, err error)

//
// Handler wiring
//

// Handlers groups the dispatch HTTP endpoints.
type Handlers struct {
	reqSvc RequestService
	claims Claimer

	// Optional collaborators; nil disables the feature.
	Idempotency IdempotencyStore
	Stamp       ListStamp
	Uploads     *Uploads
}

// New constructs Handlers bound to the given services.
func New(reqSvc RequestService, claims Claimer) *Handlers {
	return &Handlers{reqSvc: reqSvc, claims: claims}
}

//
// DTOs
//

// SubmitRequestForm is the submit-request payload. Multipart, urlencoded and
// JSON bodies bind to the same field names; photo is a multipart file.
type SubmitRequestForm struct {
	ServiceType   string `form:"serviceType"   json:"serviceType"   binding:"required" example:"plumbing"`
	Address       string `form:"address"       json:"address"       binding:"required" example:"12 Main St"`
	Description   string `form:"description"   json:"description"   binding:"required" example:"Kitchen tap is leaking"`
	CommonProblem string `form:"commonProblem" json:"commonProblem"                    example:"Leaking tap"`
	Phone         string `form:"phone"         json:"phone"         binding:"required" example:"+15551234567"`
}

// SubmitResponse is returned by POST /submit-request.
type SubmitResponse struct {
	ID     string               `json:"id"     example:"5b0c3e0e-6a9f-4d0e-9f7e-1f2f3a4b5c6d"`
	Status domain.RequestStatus `json:"status" example:"new"`
}

// AcceptResponse is returned to the winning specialist.
type AcceptResponse struct {
	Request *domain.Request `json:"request"`
	// Notified counts the other specialists told the request is taken.
	Notified int `json:"notified"`
}

// RequestView is the public shape of a request on the read routes. The
// client's phone is left out: only the winning specialist receives it, with
// the accept response and the winner notification.
type RequestView struct {
	ID            string               `json:"id"                      example:"5b0c3e0e-6a9f-4d0e-9f7e-1f2f3a4b5c6d"`
	ServiceType   domain.ServiceType   `json:"service_type"            example:"plumbing"`
	Address       string               `json:"address"                 example:"12 Main St"`
	Description   string               `json:"description"             example:"Kitchen tap is leaking"`
	CommonProblem string               `json:"common_problem"          example:"Leaking tap"`
	HasPhoto      bool                 `json:"has_photo"`
	Status        domain.RequestStatus `json:"status"                  example:"new"`
	SpecialistID  *string              `json:"specialist_id,omitempty"`
	AcceptedAt    *time.Time           `json:"accepted_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func newRequestView(r *domain.Request) RequestView {
	return RequestView{
		ID:            r.ID,
		ServiceType:   r.ServiceType,
		Address:       r.Address,
		Description:   r.Description,
		CommonProblem: r.CommonProblem,
		HasPhoto:      r.HasPhoto(),
		Status:        r.Status,
		SpecialistID:  r.SpecialistID,
		AcceptedAt:    r.AcceptedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []RequestView `json:"requests"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses page and page_size with defaults 1 and 20 and a
// page size cap of 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20),
		100,
	)
}

// parseFilter reads status and service_type, rejecting unknown values.
func parseFilter(c *gin.Context) (domain.RequestFilter, error) {
	var f domain.RequestFilter
	if s := strings.ToLower(strings.TrimSpace(c.Query("status"))); s != "" {
		f.Status = domain.RequestStatus(s)
		if f.Status != domain.StatusNew && f.Status != domain.StatusAccepted {
			return f, fmt.Errorf("unknown status %q", s)
		}
	}
	if s := strings.ToLower(strings.TrimSpace(c.Query("service_type"))); s != "" {
		f.ServiceType = domain.ServiceType(s)
		if !f.ServiceType.Valid() {
			return f, fmt.Errorf("unknown service_type %q", s)
		}
	}
	return f, nil
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || (err != nil && strings.Contains(err.Error(), "request body too large"))
}

//
// Handlers
//

// SubmitRequest godoc
// @ID          submitRequest
// @Summary     Submit a service request
// @Description Stores a new request and notifies every active specialist of its service type. A retry with the same Idempotency-Key returns the original request.
// @Tags        Requests
// @Accept      multipart/form-data,application/x-www-form-urlencoded,json
// @Produce     json
//
// @Param       Idempotency-Key  header    string  false  "Idempotency key"  example(form-7f3a)
// @Param       X-Client-ID      header    string  false  "Client id scoping the key"
// @Param       serviceType      formData  string  true   "Service type"     Enums(plumbing,electrical,locksmith,carpenter)
// @Param       address          formData  string  true   "Address"
// @Param       description      formData  string  true   "Problem description"
// @Param       commonProblem    formData  string  false  "Common problem"
// @Param       phone            formData  string  true   "Contact phone"
// @Param       photo            formData  file    false  "Photo"
//
// @Success     201  {object}  handlers.SubmitResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /submit-request [post]
func (h *Handlers) SubmitRequest(c *gin.Context) {
	ctx := c.Request.Context()

	if id, replay := middleware.ReplayRequestID(c); replay {
		if r, err := h.reqSvc.Get(ctx, id); err == nil {
			c.Header("Idempotent-Replay", "true")
			ok(c, http.StatusCreated, SubmitResponse{ID: r.ID, Status: r.Status})
			return
		}
	}

	var form SubmitRequestForm
	if err := c.ShouldBind(&form); err != nil {
		if isBodyTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeValidation, "serviceType, address, description and phone are required")
		return
	}

	var photo string
	if h.Uploads != nil {
		fh, err := c.FormFile("photo")
		switch {
		case err == nil:
			photo, err = h.Uploads.Save(fh)
			if errors.Is(err, errPhotoTooLarge) {
				fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error())
				return
			}
			if errors.Is(err, errPhotoUnsupported) {
				fail(c, http.StatusBadRequest, ErrCodeUnsupportedPhoto, err.Error())
				return
			}
			if err != nil {
				fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not store photo")
				return
			}
		case isBodyTooLarge(err):
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
	}

	r, err := h.reqSvc.Submit(ctx, services.SubmitInput{
		ServiceType:   domain.ServiceType(form.ServiceType),
		Address:       form.Address,
		Description:   form.Description,
		CommonProblem: form.CommonProblem,
		Phone:         form.Phone,
		PhotoPath:     photo,
	})
	if err != nil {
		if photo != "" {
			_ = os.Remove(photo)
		}
		if errors.Is(err, services.ErrValidation) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, err.Error())
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.Idempotency != nil {
		err := h.Idempotency.Save(ctx, middleware.IdempotencyScope(c), key, r.ID, http.StatusCreated)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("request_id", r.ID).Msg("idempotency record not saved")
		}
	}

	ok(c, http.StatusCreated, SubmitResponse{ID: r.ID, Status: r.Status})
}

// AcceptRequest godoc
// @ID          acceptRequest
// @Summary     Accept a request
// @Description Claims the request for the specialist in X-Specialist-ID. Requires the integration key; mounted only when ACCEPT_API_KEY is set. Exactly one concurrent caller wins; the rest get 409.
// @Tags        Requests
// @Produce     json
//
// @Param       X-Dispatch-Key   header  string  true  "Shared integration key"
// @Param       X-Specialist-ID  header  string  true  "Specialist channel identity"  example(123456789)
// @Param       id               path    string  true  "Request ID"                   format(uuid)
//
// @Success     200  {object}  handlers.AcceptResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing specialist id"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid integration key"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown request or specialist"
// @Failure     409  {object}  handlers.ErrorResponse  "Already claimed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{id}/accept [post]
func (h *Handlers) AcceptRequest(c *gin.Context) {
	identity := strings.TrimSpace(c.GetHeader(middleware.HeaderSpecialistID))
	if identity == "" {
		fail(c, http.StatusBadRequest, ErrCodeMissingIdentity, "X-Specialist-ID header required")
		return
	}

	res, err := h.claims.Claim(c.Request.Context(), c.Param("id"), identity)
	switch {
	case err == nil:
		ok(c, http.StatusOK, AcceptResponse{Request: res.Request, Notified: res.Taken.Sent})
	case errors.Is(err, services.ErrAlreadyClaimed):
		fail(c, http.StatusConflict, ErrCodeAlreadyClaimed, "request already accepted by another specialist")
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
	case errors.Is(err, services.ErrUnknownSpecialist):
		fail(c, http.StatusNotFound, ErrCodeUnknownSpecialist, "specialist not registered")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeClaimFailed, err.Error())
	}
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get a request
// @Tags        Requests
// @Produce     json
// @Param       id   path      string  true  "Request ID"  format(uuid)
// @Success     200  {object}  handlers.RequestView
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	r, err := h.reqSvc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrRequestNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, newRequestView(r))
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List requests (paginated)
// @Description Newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       status         query   string  false  "Filter by status"        Enums(new,accepted)
// @Param       service_type   query   string  false  "Filter by service type"  Enums(plumbing,electrical,locksmith,carpenter)
// @Param       page           query   int     false  "Page number"             minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"          minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListRequestsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad filter"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := parseFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.Stamp != nil {
		if count, maxTS, err := h.Stamp(ctx, f); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%s:%d:%d:%d:%d"`, f.Status, f.ServiceType, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.reqSvc.ListPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	views := make([]RequestView, 0, len(items))
	for i := range items {
		views = append(views, newRequestView(&items[i]))
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// Stats godoc
// @ID          requestStats
// @Summary     Request counts per status
// @Tags        Requests
// @Produce     json
// @Success     200  {object}  services.RequestStats
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.reqSvc.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}
