package compliance

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careguard/careguard/internal/platform/auth"
	"github.com/careguard/careguard/pkg/pagination"
)

type Handler struct {
	engine *Engine
	repo   Repository
}

func NewHandler(engine *Engine, repo Repository) *Handler {
	return &Handler{engine: engine, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "auditor"))
	readGroup.GET("/compliance/findings", h.ListFindings)
	readGroup.GET("/compliance/remediations", h.ListRemediations)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.POST("/compliance/process", h.ProcessFindings)
}

// ProcessFindings accepts a Security Hub EventBridge event or a bare array
// of findings and runs the batch through the engine.
func (h *Handler) ProcessFindings(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body")
	}
	findings, err := ParseFindings(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sum, err := h.engine.ProcessBatch(c.Request().Context(), findings)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListFindings(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := FindingFilter{
		Severity:    c.QueryParam("severity"),
		FindingType: c.QueryParam("finding_type"),
		AccountID:   c.QueryParam("account_id"),
	}
	recs, total, err := h.repo.ListFindings(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListRemediations(c echo.Context) error {
	pg := pagination.FromContext(c)
	rems, total, err := h.repo.ListRemediations(c.Request().Context(), c.QueryParam("finding_id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rems, total, pg.Limit, pg.Offset))
}
