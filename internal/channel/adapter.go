package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedChannel is returned when no adapter is registered for a
// channel type.
var ErrUnsupportedChannel = errors.New("unsupported channel type")

// SendReason classifies an outbound send failure in provider-agnostic terms.
type SendReason string

const (
	// ReasonNotConfigured means the integration is missing required
	// credentials for the send.
	ReasonNotConfigured SendReason = "channel_not_configured"
	// ReasonRejected means the provider actively refused the message.
	ReasonRejected SendReason = "provider_rejected"
	// ReasonTransient means network trouble or a provider-side outage; the
	// caller may retry the dispatch explicitly.
	ReasonTransient SendReason = "transient_failure"
)

// SendError is a typed outbound failure carried from an adapter to the
// dispatch router. Adapters must return it for every send failure.
type SendError struct {
	Reason SendReason
	Err    error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NewSendError wraps err with a provider-agnostic reason.
func NewSendError(reason SendReason, err error) *SendError {
	return &SendError{Reason: reason, Err: err}
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type        ChannelType
	DisplayName string
}

// Adapter is the base interface every channel adapter must implement.
// Parsing and sending are expressed through optional interfaces so the
// registry can dispatch on capability.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Parser normalizes a provider webhook body into canonical messages.
//
// An error is returned only for envelope-level malformation (the body is not
// the provider's webhook shape at all). Unrecognized event kinds, ping or
// verification events, and partially populated batch entries must not fail:
// they yield zero messages.
type Parser interface {
	ParseWebhook(body []byte) (ParsedWebhook, error)
}

// Sender delivers outbound content to an external contact and returns the
// provider-assigned message id. Failures are always *SendError.
type Sender interface {
	Send(ctx context.Context, cfg IntegrationConfig, target string, content Content) (string, error)
}

// ReadNotifier propagates operator read receipts to providers that support
// them. Implementations are best-effort.
type ReadNotifier interface {
	MarkRead(ctx context.Context, cfg IntegrationConfig, externalMessageID string) error
}
