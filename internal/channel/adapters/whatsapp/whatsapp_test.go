package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omniboxhq/omnibox/internal/channel"
)

func TestParseWebhook_BatchedEntries(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [
			{
				"id": "waba-1",
				"changes": [{
					"field": "messages",
					"value": {
						"messaging_product": "whatsapp",
						"metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-100"},
						"contacts": [{"wa_id": "491700000001", "profile": {"name": "Ada"}}],
						"messages": [
							{"from": "491700000001", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}},
							{"from": "491700000001", "id": "wamid.2", "timestamp": "1700000060", "type": "image", "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "receipt"}}
						]
					}
				}]
			},
			{
				"id": "waba-1",
				"changes": [{
					"field": "messages",
					"value": {
						"metadata": {"phone_number_id": "pn-100"},
						"statuses": [
							{"id": "wamid.out-1", "status": "delivered", "timestamp": "1700000120"},
							{"id": "wamid.out-1", "status": "bogus", "timestamp": "1700000120"}
						]
					}
				}]
			}
		]
	}`)

	parsed, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(parsed.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(parsed.Messages))
	}

	first := parsed.Messages[0]
	if first.Channel != channel.WhatsApp {
		t.Errorf("channel = %q, want %q", first.Channel, channel.WhatsApp)
	}
	if first.ExternalMessageID != "wamid.1" || first.ExternalContactID != "491700000001" {
		t.Errorf("identity = (%q, %q)", first.ExternalMessageID, first.ExternalContactID)
	}
	if first.RouteKey != "pn-100" {
		t.Errorf("route key = %q, want pn-100", first.RouteKey)
	}
	if first.Content.Type != channel.ContentText || first.Content.Text != "hello" {
		t.Errorf("content = %+v", first.Content)
	}
	if first.Contact.Name != "Ada" || first.Contact.PhoneNumber != "+491700000001" {
		t.Errorf("contact = %+v", first.Contact)
	}
	if want := time.Unix(1700000000, 0).UTC(); !first.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", first.Timestamp, want)
	}

	second := parsed.Messages[1]
	if second.Content.Type != channel.ContentImage || second.Content.Caption != "receipt" {
		t.Errorf("image content = %+v", second.Content)
	}
	if got := second.Content.Raw["media_id"]; got != "media-9" {
		t.Errorf("media_id = %v, want media-9", got)
	}

	if len(parsed.Statuses) != 1 {
		t.Fatalf("statuses = %d, want 1 (unknown status dropped)", len(parsed.Statuses))
	}
	st := parsed.Statuses[0]
	if st.ExternalMessageID != "wamid.out-1" || st.Status != channel.StatusDelivered || st.RouteKey != "pn-100" {
		t.Errorf("status = %+v", st)
	}
}

func TestParseWebhook_SkipsNonMessageEntries(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [
			{"id": "waba-1", "changes": [{"field": "account_update", "value": {}}]},
			{"id": "waba-1", "changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "pn-100"},
					"messages": [
						{"from": "", "id": "wamid.missing-from", "type": "text", "text": {"body": "x"}},
						{"from": "491700000001", "id": "wamid.3", "timestamp": "1700000000", "type": "reaction"},
						{"from": "491700000001", "id": "wamid.4", "timestamp": "1700000000", "type": "text", "text": {"body": "kept"}}
					]
				}
			}]}
		]
	}`)

	parsed, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(parsed.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(parsed.Messages))
	}
	if parsed.Messages[0].ExternalMessageID != "wamid.4" {
		t.Errorf("kept = %q, want wamid.4", parsed.Messages[0].ExternalMessageID)
	}
}

func TestParseWebhook_UnknownTypeBecomesOther(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "waba-1", "changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "pn-100"},
				"messages": [{"from": "491700000001", "id": "wamid.5", "timestamp": "1700000000", "type": "interactive"}]
			}
		}]}]
	}`)

	parsed, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(parsed.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(parsed.Messages))
	}
	content := parsed.Messages[0].Content
	if content.Type != channel.ContentOther {
		t.Errorf("type = %q, want other", content.Type)
	}
	if content.Raw["whatsapp_type"] != "interactive" {
		t.Errorf("raw = %+v", content.Raw)
	}
}

func TestParseWebhook_MalformedBody(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())
	if _, err := a.ParseWebhook([]byte(`{"entry": "not-a-list"`)); err == nil {
		t.Fatal("want decode error for truncated body")
	}
}

func TestParseEpochSeconds(t *testing.T) {
	t.Parallel()
	if got := parseEpochSeconds("1700000000"); !got.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("got %v", got)
	}
	// Garbage falls back to the current clock rather than zero time.
	if got := parseEpochSeconds("not-a-number"); time.Since(got) > time.Minute {
		t.Errorf("fallback timestamp too old: %v", got)
	}
}

func TestSend_Text(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{{"id": "wamid.sent-1"}},
		})
	}))
	defer srv.Close()

	a := New(slog.Default())
	a.Graph().SetBaseURL(srv.URL)

	cfg := channel.IntegrationConfig{
		ID:       "int-1",
		RouteKey: "pn-100",
		Credentials: map[string]any{
			"access_token": "token-abc",
		},
	}
	id, err := a.Send(context.Background(), cfg, "+491700000001", channel.Content{Type: channel.ContentText, Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "wamid.sent-1" {
		t.Errorf("id = %q", id)
	}
	if gotPath != "/pn-100/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPayload["to"] != "491700000001" {
		t.Errorf("to = %v, want leading + stripped", gotPayload["to"])
	}
	if gotPayload["type"] != "text" {
		t.Errorf("type = %v", gotPayload["type"])
	}
}

func TestSend_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		cfg    channel.IntegrationConfig
		reason channel.SendReason
	}{
		{
			name:   "missing phone number id",
			cfg:    channel.IntegrationConfig{ID: "int-1", Credentials: map[string]any{"access_token": "t"}},
			reason: channel.ReasonNotConfigured,
		},
		{
			name:   "missing access token",
			cfg:    channel.IntegrationConfig{ID: "int-1", RouteKey: "pn-100"},
			reason: channel.ReasonNotConfigured,
		},
		{
			name:   "provider 4xx",
			status: http.StatusBadRequest,
			cfg:    channel.IntegrationConfig{ID: "int-1", RouteKey: "pn-100", Credentials: map[string]any{"access_token": "t"}},
			reason: channel.ReasonRejected,
		},
		{
			name:   "provider 5xx",
			status: http.StatusBadGateway,
			cfg:    channel.IntegrationConfig{ID: "int-1", RouteKey: "pn-100", Credentials: map[string]any{"access_token": "t"}},
			reason: channel.ReasonTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "code": 1}}`))
			}))
			defer srv.Close()

			a := New(slog.Default())
			a.Graph().SetBaseURL(srv.URL)

			_, err := a.Send(context.Background(), tt.cfg, "491700000001", channel.Content{Type: channel.ContentText, Text: "hi"})
			var sendErr *channel.SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("err = %v, want SendError", err)
			}
			if sendErr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", sendErr.Reason, tt.reason)
			}
		})
	}
}

func TestSend_MediaRequiresURL(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())
	cfg := channel.IntegrationConfig{ID: "int-1", RouteKey: "pn-100", Credentials: map[string]any{"access_token": "t"}}

	_, err := a.Send(context.Background(), cfg, "491700000001", channel.Content{Type: channel.ContentImage})
	var sendErr *channel.SendError
	if !errors.As(err, &sendErr) || sendErr.Reason != channel.ReasonRejected {
		t.Fatalf("err = %v, want rejected SendError", err)
	}
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	a := New(slog.Default())
	a.Graph().SetBaseURL(srv.URL)

	cfg := channel.IntegrationConfig{ID: "int-1", RouteKey: "pn-100", Credentials: map[string]any{"access_token": "t"}}
	if err := a.MarkRead(context.Background(), cfg, "wamid.1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if gotPayload["status"] != "read" || gotPayload["message_id"] != "wamid.1" {
		t.Errorf("payload = %+v", gotPayload)
	}
}
