package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/omniboxhq/omnibox/internal/auth"
	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/event"
	"github.com/omniboxhq/omnibox/internal/inbox"
)

// InboxHandler serves the tenant-facing unified inbox API.
type InboxHandler struct {
	logger     *slog.Logger
	service    *inbox.Service
	dispatcher *inbox.Dispatcher
	hub        *event.Hub
}

func NewInboxHandler(log *slog.Logger, service *inbox.Service, dispatcher *inbox.Dispatcher, hub *event.Hub) *InboxHandler {
	return &InboxHandler{
		logger:     log.With(slog.String("handler", "inbox")),
		service:    service,
		dispatcher: dispatcher,
		hub:        hub,
	}
}

// Register registers all unified inbox routes.
func (h *InboxHandler) Register(e *echo.Echo) {
	group := e.Group("/unified-inbox")
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/:conversation_id/messages", h.ListMessages)
	group.POST("/conversations/:conversation_id/messages", h.SendMessage)
	group.PUT("/conversations/:conversation_id/status", h.UpdateStatus)
	group.PUT("/conversations/:conversation_id/read", h.MarkRead)
	group.GET("/events", h.StreamEvents)
}

// ListConversations lists the tenant's conversations, most recent activity
// first.
func (h *InboxHandler) ListConversations(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	filter := inbox.ConversationFilter{
		Search: strings.TrimSpace(c.QueryParam("search")),
		Limit:  intQueryParam(c, "limit"),
		Offset: intQueryParam(c, "offset"),
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, err := inbox.ParseConversationStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Status = status
	}

	conversations, err := h.service.ListConversations(c.Request().Context(), tenantID, filter)
	if err != nil {
		return h.mapError(c, err, "list conversations failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": conversations})
}

// ListMessages returns one conversation's messages in original-timestamp
// order.
func (h *InboxHandler) ListMessages(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}

	query := inbox.MessageQuery{
		Limit:  intQueryParam(c, "limit"),
		Offset: intQueryParam(c, "offset"),
	}
	if raw := strings.TrimSpace(c.QueryParam("before")); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be RFC 3339")
		}
		query.Before = before
	}

	messages, err := h.service.ListMessages(c.Request().Context(), tenantID, conversationID, query)
	if err != nil {
		return h.mapError(c, err, "list messages failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// SendMessage dispatches an operator reply through the conversation's origin
// channel.
func (h *InboxHandler) SendMessage(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}

	var req inbox.SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "message content is required")
	}

	result, err := h.dispatcher.Send(c.Request().Context(), tenantID, conversationID, req)
	if err != nil {
		return h.mapError(c, err, "send failed")
	}
	return c.JSON(http.StatusOK, result)
}

type updateStatusRequest struct {
	Status string    `json:"status"`
	Tags   *[]string `json:"tags"`
	Notes  *string   `json:"notes"`
}

// UpdateStatus changes a conversation's lifecycle status and, optionally, its
// tags and notes. Omitted fields keep their current value.
func (h *InboxHandler) UpdateStatus(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var tags []string
	if req.Tags != nil {
		tags = *req.Tags
		if tags == nil {
			tags = []string{}
		}
	}
	conversation, err := h.service.UpdateStatus(c.Request().Context(), tenantID, conversationID, req.Status, tags, req.Notes)
	if err != nil {
		return h.mapError(c, err, "update status failed")
	}
	return c.JSON(http.StatusOK, conversation)
}

// MarkRead resets the conversation's unread counter and, where the channel
// supports it, sends a read receipt to the provider.
func (h *InboxHandler) MarkRead(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}
	conversationID, err := conversationIDParam(c)
	if err != nil {
		return err
	}

	if err := h.service.MarkRead(c.Request().Context(), tenantID, conversationID); err != nil {
		return h.mapError(c, err, "mark read failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// StreamEvents streams the tenant's inbox events over SSE.
func (h *InboxHandler) StreamEvents(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	stream, cancel := h.hub.Subscribe(tenantID.String())
	defer cancel()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-heartbeat.C:
			if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ping"}); err != nil {
				return nil
			}
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, evt); err != nil {
				return nil
			}
		}
	}
}

func (h *InboxHandler) mapError(c echo.Context, err error, msg string) error {
	if errors.Is(err, inbox.ErrConversationNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if errors.Is(err, inbox.ErrInvalidStatus) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var dispatchErr *inbox.DispatchError
	if errors.As(err, &dispatchErr) {
		return c.JSON(dispatchStatusCode(dispatchErr.Reason), map[string]string{
			"error":  dispatchErr.Error(),
			"reason": string(dispatchErr.Reason),
		})
	}
	h.logger.Error(msg, slog.Any("error", err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func dispatchStatusCode(reason channel.SendReason) int {
	switch reason {
	case channel.ReasonNotConfigured:
		return http.StatusConflict
	case channel.ReasonRejected:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func conversationIDParam(c echo.Context) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Param("conversation_id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "conversation id must be a UUID")
	}
	return id, nil
}

func intQueryParam(c echo.Context, name string) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeSSEJSON(writer *bufio.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := writer.WriteString(fmt.Sprintf("data: %s\n\n", data)); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
