// Catalog HTTP handlers: the static service catalog the web form renders,
// and problem suggestions for a free-text description.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/catalog"
	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/utils"
)

// SuggestResponse lists likely common problems for a description.
type SuggestResponse struct {
	ServiceType domain.ServiceType   `json:"service_type"`
	Suggestions []catalog.Suggestion `json:"suggestions"`
}

// ServiceTypes godoc
// @ID          listServiceTypes
// @Summary     Service catalog
// @Description Supported service types with labels and common problems.
// @Tags        Catalog
// @Produce     json
// @Success     200  {array}  catalog.Entry
// @Router      /service-types [get]
func (h *Handlers) ServiceTypes(c *gin.Context) {
	ok(c, http.StatusOK, catalog.Entries())
}

// SuggestProblems godoc
// @ID          suggestProblems
// @Summary     Suggest common problems
// @Description Ranks the service type's common problems against a description.
// @Tags        Catalog
// @Produce     json
// @Param       id           path   string  true   "Service type"  Enums(plumbing,electrical,locksmith,carpenter)
// @Param       description  query  string  true   "Problem description"
// @Param       k            query  int     false  "Max suggestions"  minimum(1) maximum(10) default(3)
// @Success     200  {object}  handlers.SuggestResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown service type"
// @Router      /service-types/{id}/suggest [get]
func (h *Handlers) SuggestProblems(c *gin.Context) {
	t := domain.ServiceType(strings.ToLower(c.Param("id")))
	if _, found := catalog.Lookup(t); !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown service type")
		return
	}
	desc := strings.TrimSpace(c.Query("description"))
	if desc == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description required")
		return
	}
	k := utils.AtoiDefault(c.Query("k"), 3)
	if k < 1 || k > 10 {
		k = 3
	}
	sug := catalog.Suggest(t, desc, k)
	if sug == nil {
		sug = []catalog.Suggestion{}
	}
	ok(c, http.StatusOK, SuggestResponse{ServiceType: t, Suggestions: sug})
}
