// Package metagraph implements the Meta Graph API plumbing shared by the
// WhatsApp, Messenger, and Instagram adapters: an HTTP client with
// provider-agnostic failure classification, and the common page-messaging
// webhook envelope that Messenger and Instagram both use.
package metagraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// DefaultBaseURL is the Graph API endpoint prefix.
const DefaultBaseURL = "https://graph.facebook.com/v19.0"

const maxResponseBytes int64 = 1 << 20 // 1 MiB

// Client is a minimal Graph API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Graph API client with a bounded request timeout.
func NewClient(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		logger:     log.With(slog.String("client", "metagraph")),
	}
}

// SetBaseURL overrides the Graph API endpoint. Used by tests.
func (c *Client) SetBaseURL(baseURL string) {
	if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
		c.baseURL = strings.TrimRight(trimmed, "/")
	}
}

// Post sends a JSON payload to the given Graph API path and decodes the JSON
// response. Failures are classified into channel.SendError reasons: network
// trouble and 5xx responses are transient, 4xx responses mean the provider
// rejected the request.
func (c *Client) Post(ctx context.Context, path, accessToken string, payload any) (map[string]any, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, channel.NewSendError(channel.ReasonNotConfigured, fmt.Errorf("access token is empty"))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("encode request: %w", err))
	}
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, channel.NewSendError(channel.ReasonRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, channel.NewSendError(channel.ReasonTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, channel.NewSendError(channel.ReasonTransient, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, channel.NewSendError(channel.ReasonTransient, fmt.Errorf("graph api status %d: %s", resp.StatusCode, graphErrorMessage(raw)))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("graph api status %d: %s", resp.StatusCode, graphErrorMessage(raw)))
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, channel.NewSendError(channel.ReasonTransient, fmt.Errorf("decode response: %w", err))
		}
	}
	return decoded, nil
}

func graphErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Message == "" {
		return strings.TrimSpace(string(raw))
	}
	return fmt.Sprintf("%s (code %d)", envelope.Error.Message, envelope.Error.Code)
}
