package metagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// messagingEnvelope is the shared Messenger/Instagram webhook shape
// (object "page" or "instagram").
type messagingEnvelope struct {
	Object string           `json:"object"`
	Entry  []messagingEntry `json:"entry"`
}

type messagingEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender    participantRef     `json:"sender"`
	Recipient participantRef     `json:"recipient"`
	Timestamp int64              `json:"timestamp"` // epoch milliseconds
	Message   *messagingMessage  `json:"message"`
	Delivery  *messagingDelivery `json:"delivery"`
	Read      *messagingRead     `json:"read"`
}

type participantRef struct {
	ID string `json:"id"`
}

type messagingMessage struct {
	MID         string                `json:"mid"`
	Text        string                `json:"text"`
	IsEcho      bool                  `json:"is_echo"`
	Attachments []messagingAttachment `json:"attachments"`
}

type messagingAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates"`
	} `json:"payload"`
}

type messagingDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

type messagingRead struct {
	Watermark int64 `json:"watermark"`
}

// ParseMessagingWebhook normalizes a Messenger/Instagram webhook body.
// wantObject is the envelope object tag for the channel ("page" for
// Messenger, "instagram" for Instagram). Entries with no messaging events,
// echoes of the page's own sends, and unknown event kinds yield nothing
// rather than errors: the same endpoint also receives field-change and
// verification traffic.
func ParseMessagingWebhook(body []byte, wantObject string, channelType channel.ChannelType) (channel.ParsedWebhook, error) {
	var envelope messagingEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return channel.ParsedWebhook{}, fmt.Errorf("decode %s webhook envelope: %w", channelType, err)
	}
	if !strings.EqualFold(strings.TrimSpace(envelope.Object), wantObject) {
		// Allow other subscription objects through the shared app webhook.
		return channel.ParsedWebhook{}, nil
	}

	var parsed channel.ParsedWebhook
	for _, entry := range envelope.Entry {
		routeKey := strings.TrimSpace(entry.ID)
		for _, event := range entry.Messaging {
			switch {
			case event.Message != nil && !event.Message.IsEcho:
				msg, ok := messagingToIncoming(event, routeKey, channelType)
				if !ok {
					continue
				}
				parsed.Messages = append(parsed.Messages, msg)
			case event.Delivery != nil:
				for _, mid := range event.Delivery.MIDs {
					mid = strings.TrimSpace(mid)
					if mid == "" {
						continue
					}
					parsed.Statuses = append(parsed.Statuses, channel.StatusUpdate{
						ExternalMessageID: mid,
						RouteKey:          routeKey,
						Status:            channel.StatusDelivered,
						Timestamp:         time.UnixMilli(event.Delivery.Watermark).UTC(),
					})
				}
			}
		}
	}
	return parsed, nil
}

func messagingToIncoming(event messagingEvent, routeKey string, channelType channel.ChannelType) (channel.IncomingMessage, bool) {
	senderID := strings.TrimSpace(event.Sender.ID)
	mid := strings.TrimSpace(event.Message.MID)
	if senderID == "" || mid == "" {
		return channel.IncomingMessage{}, false
	}
	content := messagingContent(event.Message)
	if content.IsEmpty() {
		return channel.IncomingMessage{}, false
	}
	return channel.IncomingMessage{
		Channel:           channelType,
		ExternalMessageID: mid,
		ExternalContactID: senderID,
		RouteKey:          routeKey,
		Content:           content,
		Timestamp:         time.UnixMilli(event.Timestamp).UTC(),
	}, true
}

func messagingContent(msg *messagingMessage) channel.Content {
	if len(msg.Attachments) == 0 {
		return channel.Content{Type: channel.ContentText, Text: strings.TrimSpace(msg.Text)}
	}
	att := msg.Attachments[0]
	content := channel.Content{
		MediaURL: strings.TrimSpace(att.Payload.URL),
		Caption:  strings.TrimSpace(msg.Text),
	}
	switch strings.ToLower(strings.TrimSpace(att.Type)) {
	case "image":
		content.Type = channel.ContentImage
	case "video":
		content.Type = channel.ContentVideo
	case "audio":
		content.Type = channel.ContentAudio
	case "file":
		content.Type = channel.ContentDocument
		content.FileName = strings.TrimSpace(att.Payload.Title)
	case "location":
		content.Type = channel.ContentLocation
		if att.Payload.Coordinates != nil {
			content.Latitude = att.Payload.Coordinates.Lat
			content.Longitude = att.Payload.Coordinates.Long
		}
	default:
		content.Type = channel.ContentOther
		content.Raw = map[string]any{"attachment_type": att.Type}
	}
	return content
}

// SendMessaging delivers outbound content through the Send API shared by
// Messenger and Instagram and returns the provider message id.
func SendMessaging(ctx context.Context, client *Client, cfg channel.IntegrationConfig, target string, content channel.Content) (string, error) {
	accessToken := cfg.Credential("access_token")
	if accessToken == "" {
		return "", channel.NewSendError(channel.ReasonNotConfigured, fmt.Errorf("integration %s: access_token missing", cfg.ID))
	}
	message, err := messagingSendPayload(content)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"recipient":      map[string]any{"id": target},
		"messaging_type": "RESPONSE",
		"message":        message,
	}
	resp, err := client.Post(ctx, "me/messages", accessToken, payload)
	if err != nil {
		return "", err
	}
	messageID, _ := resp["message_id"].(string)
	if strings.TrimSpace(messageID) == "" {
		return "", channel.NewSendError(channel.ReasonTransient, fmt.Errorf("send api returned no message_id"))
	}
	return messageID, nil
}

func messagingSendPayload(content channel.Content) (map[string]any, error) {
	switch content.Type {
	case channel.ContentText:
		return map[string]any{"text": content.Text}, nil
	case channel.ContentImage, channel.ContentVideo, channel.ContentAudio, channel.ContentDocument, channel.ContentSticker:
		attachmentType := map[channel.ContentType]string{
			channel.ContentImage:    "image",
			channel.ContentVideo:    "video",
			channel.ContentAudio:    "audio",
			channel.ContentDocument: "file",
			channel.ContentSticker:  "image",
		}[content.Type]
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("%s content requires media_url", content.Type))
		}
		return map[string]any{
			"attachment": map[string]any{
				"type":    attachmentType,
				"payload": map[string]any{"url": content.MediaURL, "is_reusable": true},
			},
		}, nil
	default:
		return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("content type %q not sendable on this channel", content.Type))
	}
}
