package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
)

// DashboardHandler serves organization dashboards.
type DashboardHandler struct {
	Metrics *service.DashboardService
}

// NewDashboardHandler creates the handler set.
func NewDashboardHandler(dashboard *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{Metrics: dashboard}
}

type dashboardQuery struct {
	AsOf string `form:"as_of"`
}

// Dashboard returns the organization metrics, as of the optional RFC 3339
// "as_of" query parameter.
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	var q dashboardQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, describeBindError(err))
		return
	}
	var asOf time.Time
	if q.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, q.AsOf)
		if err != nil {
			badRequest(c, "as_of must be an RFC 3339 timestamp.")
			return
		}
		asOf = parsed
	}

	metrics, err := h.Metrics.BuildOrgDashboard(c.Request.Context(), sess.Subject, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

type pageQuery struct {
	Offset int `form:"offset" binding:"omitempty,min=0"`
	Limit  int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// UserSubmissions pages through one student's submissions for the
// organization.
func (h *DashboardHandler) UserSubmissions(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, describeBindError(err))
		return
	}
	page, err := h.Metrics.UserSubmissions(c.Request.Context(), sess.Subject, c.Param("id"), service.Page{Offset: q.Offset, Limit: q.Limit})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
