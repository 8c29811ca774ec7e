package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lmmpower/app"
	"lmmpower/domain/core"
	"lmmpower/domain/power"
	"lmmpower/internal"
	ierrors "lmmpower/internal/errors"
	"lmmpower/internal/metrics"
	"lmmpower/internal/report"
)

// PowerHandler serves the /v1 power analysis endpoints
type PowerHandler struct {
	service *app.PowerService
	logger  *internal.Logger
}

// NewPowerHandler creates a new power handler
func NewPowerHandler(service *app.PowerService, logger *internal.Logger) *PowerHandler {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &PowerHandler{service: service, logger: logger}
}

// IntervalRequest is the body of POST /v1/interval
type IntervalRequest struct {
	P         *float64 `json:"p" binding:"required"`
	N         int      `json:"n" binding:"required"`
	Tolerance *float64 `json:"tolerance,omitempty"`
}

// AnalysisSummary is one entry of GET /v1/analyses
type AnalysisSummary struct {
	ID            core.RunID   `json:"id"`
	Formula       string       `json:"formula"`
	Method        power.Method `json:"method"`
	Replicates    int          `json:"replicates"`
	SingularCount int          `json:"singular_count"`
	CreatedAt     string       `json:"created_at"`
}

// Register adds the handler's routes to a router group
func (h *PowerHandler) Register(group *gin.RouterGroup) {
	group.POST("/interval", h.Interval)
	group.POST("/power", h.RunPower)
	group.GET("/analyses", h.ListAnalyses)
	group.GET("/analyses/:id", h.GetAnalysis)
}

// Interval computes a confidence interval for an estimated power
func (h *PowerHandler) Interval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, core.NewInvalidArgument("body", err.Error()))
		return
	}
	metrics.IntervalRequested()

	var (
		iv  power.Interval
		err error
	)
	if req.Tolerance != nil {
		iv, err = power.EstimateIntervalWithTolerance(*req.P, req.N, *req.Tolerance)
	} else {
		iv, err = power.EstimateInterval(*req.P, req.N)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, iv)
}

// RunPower runs a power analysis synchronously. The optional format query
// parameter selects a report format instead of the JSON result.
func (h *PowerHandler) RunPower(c *gin.Context) {
	var req app.PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, core.NewInvalidArgument("body", err.Error()))
		return
	}

	res, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	if format := c.Query("format"); format != "" {
		h.render(c, report.FromResult(res), format)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListAnalyses returns stored analyses, newest first
func (h *PowerHandler) ListAnalyses(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, core.NewInvalidArgumentf("limit", "must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	analyses, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]AnalysisSummary, 0, len(analyses))
	for _, a := range analyses {
		s := AnalysisSummary{
			ID:         a.ID,
			Formula:    a.Formula,
			Method:     a.Method,
			Replicates: a.Replicates,
			CreatedAt:  a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if a.Table != nil {
			s.SingularCount = a.Table.SingularCount
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, gin.H{"analyses": out})
}

// GetAnalysis returns one stored analysis
func (h *PowerHandler) GetAnalysis(c *gin.Context) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		h.fail(c, core.NewInvalidArgument("id", err.Error()))
		return
	}
	a, err := h.service.Analysis(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if format := c.Query("format"); format != "" {
		h.render(c, report.FromAnalysis(a), format)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *PowerHandler) render(c *gin.Context, r report.Report, name string) {
	format, err := report.ParseFormat(name)
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := report.Render(r, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, report.ContentType(format), data)
}

func (h *PowerHandler) fail(c *gin.Context, err error) {
	appErr := ierrors.FromDomain(err)
	status := ierrors.HTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	} else {
		h.logger.Debug("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": appErr.Error(), "code": appErr.Code})
}
