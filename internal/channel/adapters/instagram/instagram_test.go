package instagram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omniboxhq/omnibox/internal/channel"
)

func TestParseWebhook_InstagramObject(t *testing.T) {
	t.Parallel()
	a := New(slog.Default())

	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "ig-account-7",
			"messaging": [{
				"sender": {"id": "igsid-1"},
				"recipient": {"id": "ig-account-7"},
				"timestamp": 1700000000000,
				"message": {"mid": "ig.m.1", "text": "dm"}
			}]
		}]
	}`)

	parsed, err := a.ParseWebhook(body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if len(parsed.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(parsed.Messages))
	}
	msg := parsed.Messages[0]
	if msg.Channel != channel.Instagram || msg.RouteKey != "ig-account-7" || msg.ExternalContactID != "igsid-1" {
		t.Errorf("msg = %+v", msg)
	}

	// A page envelope on the same app webhook yields nothing here.
	other, err := a.ParseWebhook([]byte(`{"object": "page", "entry": [{"id": "x"}]}`))
	if err != nil {
		t.Fatalf("ParseWebhook page object: %v", err)
	}
	if len(other.Messages) != 0 {
		t.Fatalf("page object messages = %d, want 0", len(other.Messages))
	}
}

func TestSend_Attachment(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message_id": "ig.sent-1"})
	}))
	defer srv.Close()

	a := New(slog.Default())
	a.Graph().SetBaseURL(srv.URL)

	cfg := channel.IntegrationConfig{ID: "int-1", Credentials: map[string]any{"access_token": "ig-token"}}
	id, err := a.Send(context.Background(), cfg, "igsid-1", channel.Content{Type: channel.ContentImage, MediaURL: "https://cdn.example/p.jpg"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "ig.sent-1" {
		t.Errorf("id = %q", id)
	}
	message, _ := gotPayload["message"].(map[string]any)
	attachment, _ := message["attachment"].(map[string]any)
	if attachment["type"] != "image" {
		t.Errorf("attachment = %+v", attachment)
	}
}
