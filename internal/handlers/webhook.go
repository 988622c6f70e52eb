package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/inbox"
)

// telegramSecretHeader carries Telegram's per-bot webhook secret. Telegram
// updates have no route key in the payload, so this header is the only way
// to attribute them to an integration.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxWebhookBody caps inbound webhook payloads. Providers send small JSON
// envelopes; anything bigger is not a webhook we recognize.
const maxWebhookBody = 1 << 20

// WebhookHandler terminates provider webhook deliveries. It is a public
// surface: providers cannot authenticate with tenant JWTs, so attribution
// happens through route keys instead.
type WebhookHandler struct {
	logger      *slog.Logger
	registry    *channel.Registry
	ingestor    *inbox.Ingestor
	verifyToken string
}

func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, ingestor *inbox.Ingestor, metaVerifyToken string) *WebhookHandler {
	return &WebhookHandler{
		logger:      log.With(slog.String("handler", "webhook")),
		registry:    registry,
		ingestor:    ingestor,
		verifyToken: metaVerifyToken,
	}
}

// Register registers the webhook entrypoints.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/unified-webhook/:channel", h.Verify)
	e.POST("/unified-webhook/:channel", h.Receive)
}

// Verify answers provider endpoint checks. Meta platforms send a subscription
// handshake (hub.mode=subscribe) and expect the challenge echoed back; every
// other probe gets a plain 200.
func (h *WebhookHandler) Verify(c echo.Context) error {
	if _, err := h.channelParam(c); err != nil {
		return err
	}

	if c.QueryParam("hub.mode") == "subscribe" {
		token := c.QueryParam("hub.verify_token")
		if h.verifyToken == "" || token != h.verifyToken {
			return echo.NewHTTPError(http.StatusForbidden, "verify token mismatch")
		}
		return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
	}
	return c.String(http.StatusOK, "ok")
}

// Receive ingests one webhook delivery. Providers retry on non-2xx, so the
// contract is deliberately forgiving: only an unparseable envelope is a 400.
// Messages dropped inside the batch (unknown route, per-message errors) are
// still acknowledged with success.
func (h *WebhookHandler) Receive(c echo.Context) error {
	channelType, err := h.channelParam(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}

	routeFallback := c.Request().Header.Get(telegramSecretHeader)
	if err := h.ingestor.IngestWebhook(c.Request().Context(), channelType, body, routeFallback); err != nil {
		if errors.Is(err, inbox.ErrParse) {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
		}
		h.logger.Error("webhook ingestion failed",
			slog.String("channel", channelType.String()),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *WebhookHandler) channelParam(c echo.Context) (channel.ChannelType, error) {
	raw := strings.TrimSpace(c.Param("channel"))
	channelType, err := h.registry.ParseChannelType(raw)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, "unknown channel")
	}
	return channelType, nil
}
