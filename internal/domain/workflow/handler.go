package workflow

import (
	"encoding/json"
	"errors"
	"net/http"

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
	g := api.Group("", auth.RequireRole("admin"))
	g.POST("/workflow/definitions", h.RegisterDefinition)
	g.GET("/workflow/definitions", h.ListDefinitions)
	g.GET("/workflow/definitions/:id", h.GetDefinition)
	g.POST("/workflow/definitions/:id/executions", h.StartExecution)
	g.GET("/workflow/executions", h.ListExecutions)
	g.GET("/workflow/executions/:id", h.GetExecution)
}

func (h *Handler) RegisterDefinition(c echo.Context) error {
	var d Definition
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterDefinition(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDefinition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDefinition(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "definition not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDefinitions(c echo.Context) error {
	pg := pagination.FromContext(c)
	defs, total, err := h.svc.ListDefinitions(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(defs, total, pg.Limit, pg.Offset))
}

func (h *Handler) StartExecution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Input json.RawMessage `json:"input"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exec, err := h.svc.StartExecution(c.Request().Context(), id, body.Input)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "definition not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, exec)
}

func (h *Handler) GetExecution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	exec, err := h.svc.GetExecution(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exec)
}

func (h *Handler) ListExecutions(c echo.Context) error {
	pg := pagination.FromContext(c)

	var definitionID uuid.UUID
	if did := c.QueryParam("definition_id"); did != "" {
		id, err := uuid.Parse(did)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid definition_id")
		}
		definitionID = id
	}

	execs, total, err := h.svc.ListExecutions(c.Request().Context(), definitionID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(execs, total, pg.Limit, pg.Offset))
}
