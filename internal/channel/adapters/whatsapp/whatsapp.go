// Package whatsapp implements the channel adapter for the WhatsApp Business
// Cloud API: webhook payload normalization, outbound sends, and read receipts.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/omniboxhq/omnibox/internal/channel"
	"github.com/omniboxhq/omnibox/internal/channel/adapters/metagraph"
)

// Type is the WhatsApp channel type.
const Type = channel.WhatsApp

// Adapter implements channel.Adapter, channel.Parser, channel.Sender, and
// channel.ReadNotifier for WhatsApp.
type Adapter struct {
	logger *slog.Logger
	graph  *metagraph.Client
}

// New creates a WhatsApp adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "whatsapp")),
		graph:  metagraph.NewClient(log),
	}
}

// Graph exposes the underlying Graph client. Used by tests to point the
// adapter at a stub server.
func (a *Adapter) Graph() *metagraph.Client {
	return a.graph
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the WhatsApp channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: Type, DisplayName: "WhatsApp"}
}

// --- webhook payload shapes (Cloud API) ---

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         metadata    `json:"metadata"`
	Contacts         []contact   `json:"contacts"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // epoch seconds
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media        `json:"image"`
	Video    *media        `json:"video"`
	Audio    *media        `json:"audio"`
	Document *media        `json:"document"`
	Sticker  *media        `json:"sticker"`
	Location *location     `json:"location"`
	Contacts []contactCard `json:"contacts"`
}

type media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	Link     string `json:"link"`
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type contactCard struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
	} `json:"phones"`
}

type waStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ParseWebhook normalizes a Cloud API webhook body. Batch entries without a
// messages field (status callbacks, field-change notifications) contribute
// zero messages; each entry is handled independently so one malformed entry
// never drops its siblings.
func (a *Adapter) ParseWebhook(body []byte) (channel.ParsedWebhook, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.ParsedWebhook{}, fmt.Errorf("decode whatsapp webhook envelope: %w", err)
	}

	var parsed channel.ParsedWebhook
	for _, e := range env.Entry {
		for _, ch := range e.Changes {
			if !strings.EqualFold(strings.TrimSpace(ch.Field), "messages") {
				continue
			}
			routeKey := strings.TrimSpace(ch.Value.Metadata.PhoneNumberID)
			names := contactNames(ch.Value.Contacts)
			for _, msg := range ch.Value.Messages {
				incoming, ok := a.toIncoming(msg, routeKey, names)
				if !ok {
					continue
				}
				parsed.Messages = append(parsed.Messages, incoming)
			}
			for _, st := range ch.Value.Statuses {
				update, ok := toStatusUpdate(st, routeKey)
				if !ok {
					continue
				}
				parsed.Statuses = append(parsed.Statuses, update)
			}
		}
	}
	return parsed, nil
}

func contactNames(contacts []contact) map[string]string {
	if len(contacts) == 0 {
		return nil
	}
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		waID := strings.TrimSpace(c.WaID)
		name := strings.TrimSpace(c.Profile.Name)
		if waID != "" && name != "" {
			names[waID] = name
		}
	}
	return names
}

func (a *Adapter) toIncoming(msg waMessage, routeKey string, names map[string]string) (channel.IncomingMessage, bool) {
	from := strings.TrimSpace(msg.From)
	id := strings.TrimSpace(msg.ID)
	if from == "" || id == "" {
		return channel.IncomingMessage{}, false
	}
	content, ok := mapContent(msg)
	if !ok {
		return channel.IncomingMessage{}, false
	}
	return channel.IncomingMessage{
		Channel:           Type,
		ExternalMessageID: id,
		ExternalContactID: from,
		RouteKey:          routeKey,
		Content:           content,
		Contact: channel.ContactProfile{
			Name:        names[from],
			PhoneNumber: "+" + from,
		},
		Timestamp: parseEpochSeconds(msg.Timestamp),
	}, true
}

func mapContent(msg waMessage) (channel.Content, bool) {
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "text":
		if msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
			return channel.Content{}, false
		}
		return channel.Content{Type: channel.ContentText, Text: msg.Text.Body}, true
	case "image":
		return mediaContent(channel.ContentImage, msg.Image)
	case "video":
		return mediaContent(channel.ContentVideo, msg.Video)
	case "audio", "voice":
		return mediaContent(channel.ContentAudio, msg.Audio)
	case "document":
		return mediaContent(channel.ContentDocument, msg.Document)
	case "sticker":
		return mediaContent(channel.ContentSticker, msg.Sticker)
	case "location":
		if msg.Location == nil {
			return channel.Content{}, false
		}
		return channel.Content{
			Type:      channel.ContentLocation,
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Text:      strings.TrimSpace(strings.TrimSpace(msg.Location.Name + " " + msg.Location.Address)),
		}, true
	case "contacts":
		if len(msg.Contacts) == 0 {
			return channel.Content{}, false
		}
		card := msg.Contacts[0]
		content := channel.Content{Type: channel.ContentContact, ContactName: card.Name.FormattedName}
		if len(card.Phones) > 0 {
			content.ContactPhone = card.Phones[0].Phone
		}
		return content, true
	case "reaction", "unsupported", "system", "":
		// Not conversationally meaningful; dropped on purpose.
		return channel.Content{}, false
	default:
		return channel.Content{Type: channel.ContentOther, Raw: map[string]any{"whatsapp_type": msg.Type}}, true
	}
}

func mediaContent(ct channel.ContentType, m *media) (channel.Content, bool) {
	if m == nil {
		return channel.Content{}, false
	}
	content := channel.Content{
		Type:      ct,
		MediaURL:  strings.TrimSpace(m.Link),
		MediaType: strings.TrimSpace(m.MimeType),
		Caption:   strings.TrimSpace(m.Caption),
		FileName:  strings.TrimSpace(m.Filename),
	}
	if id := strings.TrimSpace(m.ID); id != "" {
		// Cloud API media is fetched by id, not URL; keep the id so the
		// operator UI can resolve it through the media endpoint.
		content.Raw = map[string]any{"media_id": id}
	}
	return content, true
}

func toStatusUpdate(st waStatus, routeKey string) (channel.StatusUpdate, bool) {
	id := strings.TrimSpace(st.ID)
	status, ok := channel.ParseMessageStatus(st.Status)
	if id == "" || !ok {
		return channel.StatusUpdate{}, false
	}
	return channel.StatusUpdate{
		ExternalMessageID: id,
		RouteKey:          routeKey,
		Status:            status,
		Timestamp:         parseEpochSeconds(st.Timestamp),
	}, true
}

// parseEpochSeconds converts the Cloud API's epoch-seconds string timestamps.
func parseEpochSeconds(raw string) time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(seconds, 0).UTC()
}

// --- outbound ---

// Send delivers content through the Cloud API messages endpoint and returns
// the provider message id (wamid).
func (a *Adapter) Send(ctx context.Context, cfg channel.IntegrationConfig, target string, content channel.Content) (string, error) {
	phoneNumberID := phoneNumberID(cfg)
	if phoneNumberID == "" {
		return "", channel.NewSendError(channel.ReasonNotConfigured, fmt.Errorf("integration %s: phone_number_id missing", cfg.ID))
	}
	payload, err := sendPayload(target, content)
	if err != nil {
		return "", err
	}
	resp, err := a.graph.Post(ctx, phoneNumberID+"/messages", cfg.Credential("access_token"), payload)
	if err != nil {
		return "", err
	}
	if messages, ok := resp["messages"].([]any); ok && len(messages) > 0 {
		if first, ok := messages[0].(map[string]any); ok {
			if id, ok := first["id"].(string); ok && strings.TrimSpace(id) != "" {
				return id, nil
			}
		}
	}
	return "", channel.NewSendError(channel.ReasonTransient, fmt.Errorf("cloud api returned no message id"))
}

// MarkRead reports the operator read receipt back to WhatsApp. Best-effort.
func (a *Adapter) MarkRead(ctx context.Context, cfg channel.IntegrationConfig, externalMessageID string) error {
	phoneNumberID := phoneNumberID(cfg)
	if phoneNumberID == "" {
		return fmt.Errorf("integration %s: phone_number_id missing", cfg.ID)
	}
	_, err := a.graph.Post(ctx, phoneNumberID+"/messages", cfg.Credential("access_token"), map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        externalMessageID,
	})
	return err
}

func phoneNumberID(cfg channel.IntegrationConfig) string {
	if id := cfg.Credential("phone_number_id"); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.RouteKey)
}

func sendPayload(target string, content channel.Content) (map[string]any, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(strings.TrimSpace(target), "+"),
	}
	switch content.Type {
	case channel.ContentText:
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": content.Text}
	case channel.ContentImage, channel.ContentVideo, channel.ContentAudio, channel.ContentDocument, channel.ContentSticker:
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("%s content requires media_url", content.Type))
		}
		kind := string(content.Type)
		media := map[string]any{"link": content.MediaURL}
		if content.Caption != "" && (content.Type == channel.ContentImage || content.Type == channel.ContentVideo || content.Type == channel.ContentDocument) {
			media["caption"] = content.Caption
		}
		if content.FileName != "" && content.Type == channel.ContentDocument {
			media["filename"] = content.FileName
		}
		payload["type"] = kind
		payload[kind] = media
	case channel.ContentLocation:
		payload["type"] = "location"
		payload["location"] = map[string]any{"latitude": content.Latitude, "longitude": content.Longitude}
	default:
		return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("content type %q not sendable on whatsapp", content.Type))
	}
	return payload, nil
}
