package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careguard/careguard/internal/platform/auth"
	"github.com/careguard/careguard/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// The trail is read-only over HTTP; only auditors and admins may see it.
	readGroup := api.Group("", auth.RequireRole("admin", "auditor"))
	readGroup.GET("/audit", h.ListRecords)
	readGroup.GET("/audit/:id", h.GetRecord)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)

	filter := Filter{
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
		Actor:        c.QueryParam("actor"),
		Source:       c.QueryParam("source"),
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since timestamp")
		}
		filter.Since = &t
	}
	if until := c.QueryParam("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until timestamp")
		}
		filter.Until = &t
	}

	recs, total, err := h.svc.ListRecords(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit record not found")
	}
	return c.JSON(http.StatusOK, rec)
}
