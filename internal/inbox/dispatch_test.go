package inbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/event"
	"github.com/omniboxhq/omnibox/internal/integration"
)

type dispatchFixture struct {
	dispatcher    *Dispatcher
	sender        *fakeSenderAdapter
	routes        *fakeRoutes
	conversations *fakeConversationStore
	messages      *fakeMessageStore
	publisher     *recordingPublisher
	tenantID      uuid.UUID
	conv          Conversation
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	sender := &fakeSenderAdapter{channelType: channel.WhatsApp, sendID: "wamid.sent-1"}
	registry := channel.NewRegistry()
	registry.MustRegister(sender)

	tenantID := uuid.New()
	routes := newFakeRoutes()
	routes.add(integration.Integration{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Channel:     channel.WhatsApp,
		RouteKey:    "pn-100",
		Credentials: map[string]any{"access_token": "t"},
	})

	conversations := newFakeConversationStore()
	conv, err := conversations.Resolve(context.Background(), ResolveParams{
		TenantID:          tenantID,
		Channel:           channel.WhatsApp,
		ExternalContactID: "491700000001",
		IntegrationID:     uuid.New(),
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	messages := newFakeMessageStore()
	publisher := &recordingPublisher{}

	return &dispatchFixture{
		dispatcher:    NewDispatcher(slog.Default(), registry, routes, conversations, messages, publisher),
		sender:        sender,
		routes:        routes,
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		tenantID:      tenantID,
		conv:          conv,
	}
}

func textContent(text string) channel.Content {
	return channel.Content{Type: channel.ContentText, Text: text}
}

func TestDispatcherSend_HappyPath(t *testing.T) {
	t.Parallel()
	fx := newDispatchFixture(t)

	result, err := fx.dispatcher.Send(context.Background(), fx.tenantID, fx.conv.ID, SendRequest{Content: textContent("on it")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.ExternalMessageID != "wamid.sent-1" || result.MessageID == uuid.Nil {
		t.Errorf("result = %+v", result)
	}

	if len(fx.sender.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(fx.sender.sends))
	}
	call := fx.sender.sends[0]
	if call.target != "491700000001" {
		t.Errorf("target = %q", call.target)
	}
	if call.cfg.Credential("access_token") != "t" {
		t.Errorf("cfg = %+v", call.cfg)
	}

	if len(fx.messages.appended) != 1 {
		t.Fatalf("appended = %d, want 1", len(fx.messages.appended))
	}
	stored := fx.messages.appended[0]
	if stored.Direction != DirectionOutbound || stored.Status != channel.StatusSent {
		t.Errorf("stored = %+v", stored)
	}
	if stored.ExternalMessageID != "wamid.sent-1" {
		t.Errorf("external id = %q", stored.ExternalMessageID)
	}

	if len(fx.conversations.outbound) != 1 {
		t.Errorf("OnOutbound calls = %d, want 1", len(fx.conversations.outbound))
	}
	if got := fx.publisher.byType(event.TypeMessageCreated); len(got) != 1 {
		t.Errorf("message.created events = %d, want 1", len(got))
	}
}

func TestDispatcherSend_ForeignTenant(t *testing.T) {
	t.Parallel()
	fx := newDispatchFixture(t)

	_, err := fx.dispatcher.Send(context.Background(), uuid.New(), fx.conv.ID, SendRequest{Content: textContent("x")})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
	if len(fx.sender.sends) != 0 {
		t.Error("sender called for foreign conversation")
	}
}

func TestDispatcherSend_NoIntegration(t *testing.T) {
	t.Parallel()
	fx := newDispatchFixture(t)
	fx.routes.byTenantChannel = map[string]integration.Integration{}

	_, err := fx.dispatcher.Send(context.Background(), fx.tenantID, fx.conv.ID, SendRequest{Content: textContent("x")})
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.Reason != channel.ReasonNotConfigured {
		t.Fatalf("err = %v, want DispatchError(channel_not_configured)", err)
	}
	if len(fx.messages.appended) != 0 {
		t.Error("message written despite missing integration")
	}
}

func TestDispatcherSend_ProviderFailureWritesNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sendErr error
		reason  channel.SendReason
	}{
		{
			name:    "classified transient failure",
			sendErr: channel.NewSendError(channel.ReasonTransient, errors.New("dial tcp: timeout")),
			reason:  channel.ReasonTransient,
		},
		{
			name:    "classified rejection",
			sendErr: channel.NewSendError(channel.ReasonRejected, errors.New("invalid recipient")),
			reason:  channel.ReasonRejected,
		},
		{
			name:    "unclassified error defaults to transient",
			sendErr: errors.New("boom"),
			reason:  channel.ReasonTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newDispatchFixture(t)
			fx.sender.sendErr = tt.sendErr

			_, err := fx.dispatcher.Send(context.Background(), fx.tenantID, fx.conv.ID, SendRequest{Content: textContent("x")})
			var dispatchErr *DispatchError
			if !errors.As(err, &dispatchErr) {
				t.Fatalf("err = %v, want DispatchError", err)
			}
			if dispatchErr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", dispatchErr.Reason, tt.reason)
			}
			// A failed send must leave no trace.
			if len(fx.messages.appended) != 0 {
				t.Error("message written for failed send")
			}
			if len(fx.conversations.outbound) != 0 {
				t.Error("activity tracked for failed send")
			}
			if len(fx.publisher.events) != 0 {
				t.Error("event published for failed send")
			}
		})
	}
}

func TestDispatcherSend_EmptyContent(t *testing.T) {
	t.Parallel()
	fx := newDispatchFixture(t)

	_, err := fx.dispatcher.Send(context.Background(), fx.tenantID, fx.conv.ID, SendRequest{})
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.Reason != channel.ReasonRejected {
		t.Fatalf("err = %v, want DispatchError(provider_rejected)", err)
	}
	if len(fx.sender.sends) != 0 {
		t.Error("sender called with empty content")
	}
}

func TestDispatcherSend_OutboundTimestampIsRecent(t *testing.T) {
	t.Parallel()
	fx := newDispatchFixture(t)

	before := time.Now().UTC()
	if _, err := fx.dispatcher.Send(context.Background(), fx.tenantID, fx.conv.ID, SendRequest{Content: textContent("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ts := fx.messages.appended[0].OriginalTimestamp
	if ts.Before(before) || ts.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("timestamp = %v, not recent", ts)
	}
}
