package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omniboxhq/omnibox/internal/channel"
)

func TestParseWebhook_TextMessage(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	body := []byte(`{
		"update_id": 100,
		"message": {
			"message_id": 77,
			"date": 1700000000,
			"text": "hello from telegram",
			"chat": {"id": 123456789, "type": "private"},
			"from": {"id": 123456789, "is_bot": false, "first_name": "Grace", "last_name": "Hopper", "username": "ghopper"}
		}
	}`)

	parsed, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(parsed.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(parsed.Messages))
	}
	msg := parsed.Messages[0]
	if msg.Channel != channel.Telegram || msg.ExternalMessageID != "77" || msg.ExternalContactID != "123456789" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.RouteKey != "" {
		t.Errorf("route key = %q, want empty (routed by secret token header)", msg.RouteKey)
	}
	if msg.Content.Type != channel.ContentText || msg.Content.Text != "hello from telegram" {
		t.Errorf("content = %+v", msg.Content)
	}
	if msg.Contact.Name != "Grace Hopper" || msg.Contact.Username != "ghopper" {
		t.Errorf("contact = %+v", msg.Contact)
	}
	if want := time.Unix(1700000000, 0).UTC(); !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestParseWebhook_MediaVariants(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	tests := []struct {
		name     string
		fragment string
		want     channel.ContentType
	}{
		{
			name:     "photo picks largest size",
			fragment: `"caption": "pic", "photo": [{"file_id": "small"}, {"file_id": "large"}]`,
			want:     channel.ContentImage,
		},
		{
			name:     "voice note",
			fragment: `"voice": {"file_id": "v1", "mime_type": "audio/ogg", "duration": 3}`,
			want:     channel.ContentAudio,
		},
		{
			name:     "document",
			fragment: `"document": {"file_id": "d1", "file_name": "report.pdf", "mime_type": "application/pdf"}`,
			want:     channel.ContentDocument,
		},
		{
			name:     "sticker",
			fragment: `"sticker": {"file_id": "s1", "emoji": "x", "width": 1, "height": 1, "is_animated": false, "is_video": false}`,
			want:     channel.ContentSticker,
		},
		{
			name:     "location",
			fragment: `"location": {"latitude": 52.52, "longitude": 13.405}`,
			want:     channel.ContentLocation,
		},
		{
			name:     "shared contact",
			fragment: `"contact": {"phone_number": "+4930123", "first_name": "Ada"}`,
			want:     channel.ContentContact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			body := []byte(fmt.Sprintf(`{
				"update_id": 101,
				"message": {
					"message_id": 78,
					"date": 1700000000,
					"chat": {"id": 5, "type": "private"},
					"from": {"id": 5, "is_bot": false, "first_name": "A"},
					%s
				}
			}`, tt.fragment))

			parsed, err := a.ParseWebhook(body)
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if len(parsed.Messages) != 1 {
				t.Fatalf("messages = %d, want 1", len(parsed.Messages))
			}
			if got := parsed.Messages[0].Content.Type; got != tt.want {
				t.Errorf("content type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseWebhook_SkippedUpdates(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	tests := []struct {
		name string
		body string
	}{
		{
			name: "edited message",
			body: `{"update_id": 1, "edited_message": {"message_id": 9, "date": 1700000000, "text": "edited", "chat": {"id": 5, "type": "private"}, "from": {"id": 5, "is_bot": false, "first_name": "A"}}}`,
		},
		{
			name: "bot sender",
			body: `{"update_id": 2, "message": {"message_id": 10, "date": 1700000000, "text": "beep", "chat": {"id": 5, "type": "private"}, "from": {"id": 6, "is_bot": true, "first_name": "B"}}}`,
		},
		{
			name: "service update without content",
			body: `{"update_id": 3, "message": {"message_id": 11, "date": 1700000000, "chat": {"id": 5, "type": "private"}, "from": {"id": 5, "is_bot": false, "first_name": "A"}, "new_chat_title": "t"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			parsed, err := a.ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if len(parsed.Messages) != 0 {
				t.Fatalf("messages = %d, want 0", len(parsed.Messages))
			}
		})
	}
}

func TestParseWebhook_MalformedBody(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())
	if _, err := a.ParseWebhook([]byte(`{"update_id"`)); err == nil {
		t.Fatal("want decode error for truncated body")
	}
}

func TestSend_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/botsecret-token/getMe":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"id": 1, "is_bot": true, "first_name": "omni", "username": "omni_bot"},
			})
		case r.URL.Path == "/botsecret-token/sendMessage":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"result": map[string]any{
					"message_id": 42,
					"date":       1700000000,
					"chat":       map[string]any{"id": 123456789, "type": "private"},
				},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	newBotForTest = func(token string) (*tgbotapi.BotAPI, error) {
		return tgbotapi.NewBotAPIWithAPIEndpoint(token, srv.URL+"/bot%s/%s")
	}
	defer func() { newBotForTest = nil }()

	a := New(slog.Default())
	cfg := channel.IntegrationConfig{ID: "int-1", Credentials: map[string]any{"bot_token": "secret-token"}}
	id, err := a.Send(context.Background(), cfg, "123456789", channel.Content{Type: channel.ContentText, Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "42" {
		t.Errorf("id = %q, want 42", id)
	}
}

func TestSend_InvalidInputs(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	_, err := a.Send(context.Background(), channel.IntegrationConfig{ID: "int-1"}, "5", channel.Content{Type: channel.ContentText, Text: "x"})
	var sendErr *channel.SendError
	if !errors.As(err, &sendErr) || sendErr.Reason != channel.ReasonNotConfigured {
		t.Fatalf("missing token: err = %v, want not-configured", err)
	}

	cfg := channel.IntegrationConfig{ID: "int-1", Credentials: map[string]any{"bot_token": "t"}}
	_, err = a.Send(context.Background(), cfg, "not-a-chat-id", channel.Content{Type: channel.ContentText, Text: "x"})
	if !errors.As(err, &sendErr) || sendErr.Reason != channel.ReasonRejected {
		t.Fatalf("bad chat id: err = %v, want rejected", err)
	}
}

func TestBuildChattable_RejectsMediaWithoutURL(t *testing.T) {
	t.Parallel()
	_, err := buildChattable(5, channel.Content{Type: channel.ContentImage})
	var sendErr *channel.SendError
	if !errors.As(err, &sendErr) || sendErr.Reason != channel.ReasonRejected {
		t.Fatalf("err = %v, want rejected SendError", err)
	}
}

func TestClassifySendError(t *testing.T) {
	t.Parallel()

	// MakeRequest returns *tgbotapi.Error, so the pointer form is what
	// production sends through here.
	tests := []struct {
		name string
		err  error
		want channel.SendReason
	}{
		{"server error", &tgbotapi.Error{Code: 500, Message: "Internal Server Error"}, channel.ReasonTransient},
		{"rate limited", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, channel.ReasonTransient},
		{"bad token", &tgbotapi.Error{Code: 401, Message: "Unauthorized"}, channel.ReasonNotConfigured},
		{"blocked by user", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked"}, channel.ReasonNotConfigured},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, channel.ReasonRejected},
		{"wrapped pointer", fmt.Errorf("send: %w", &tgbotapi.Error{Code: 401, Message: "Unauthorized"}), channel.ReasonNotConfigured},
		{"value form", tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, channel.ReasonRejected},
		{"plain network error", errors.New("dial tcp: i/o timeout"), channel.ReasonTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var sendErr *channel.SendError
			if !errors.As(classifySendError(tt.err), &sendErr) {
				t.Fatal("want SendError")
			}
			if sendErr.Reason != tt.want {
				t.Errorf("reason = %q, want %q", sendErr.Reason, tt.want)
			}
		})
	}
}
