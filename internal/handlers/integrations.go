package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/omniboxhq/omnibox/internal/auth"
	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/integration"
)

// IntegrationHandler manages the tenant's channel connections.
type IntegrationHandler struct {
	logger  *slog.Logger
	service *integration.Service
}

func NewIntegrationHandler(log *slog.Logger, service *integration.Service) *IntegrationHandler {
	return &IntegrationHandler{
		logger:  log.With(slog.String("handler", "integration")),
		service: service,
	}
}

// Register registers integration management routes.
func (h *IntegrationHandler) Register(e *echo.Echo) {
	group := e.Group("/integrations")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.DELETE("/:integration_id", h.Delete)
}

type createIntegrationRequest struct {
	Channel     string         `json:"channel" validate:"required"`
	RouteKey    string         `json:"route_key" validate:"required"`
	DisplayName string         `json:"display_name" validate:"max=200"`
	Credentials map[string]any `json:"credentials"`
}

// List returns the tenant's integrations.
func (h *IntegrationHandler) List(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	integrations, err := h.service.List(c.Request().Context(), tenantID)
	if err != nil {
		h.logger.Error("list integrations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list integrations failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"integrations": integrations})
}

// Create connects a channel account to the tenant.
func (h *IntegrationHandler) Create(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	var req createIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	record, err := h.service.Create(c.Request().Context(), integration.CreateParams{
		TenantID:    tenantID,
		Channel:     channel.ChannelType(req.Channel),
		RouteKey:    req.RouteKey,
		DisplayName: req.DisplayName,
		Credentials: req.Credentials,
	})
	if err != nil {
		if errors.Is(err, integration.ErrInvalidParams) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, integration.ErrRouteTaken) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.logger.Error("create integration failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "create integration failed")
	}
	return c.JSON(http.StatusCreated, record)
}

// Delete disconnects an integration. Existing conversations keep their
// history.
func (h *IntegrationHandler) Delete(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(strings.TrimSpace(c.Param("integration_id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "integration id must be a UUID")
	}

	if err := h.service.Delete(c.Request().Context(), tenantID, id); err != nil {
		if errors.Is(err, integration.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "integration not found")
		}
		h.logger.Error("delete integration failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "delete integration failed")
	}
	return c.NoContent(http.StatusNoContent)
}
