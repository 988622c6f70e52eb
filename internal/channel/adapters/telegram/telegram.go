// Package telegram implements the channel adapter for Telegram Bot API
// webhooks and sends.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omniboxhq/omnibox/internal/channel"
)

// Type is the Telegram channel type.
const Type = channel.Telegram

// Adapter implements channel.Adapter, channel.Parser, and channel.Sender for
// Telegram. Bot clients are cached per token because constructing one hits
// the getMe endpoint.
type Adapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// New creates a Telegram adapter.
func New(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

var newBotForTest func(token string) (*tgbotapi.BotAPI, error)

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	if newBotForTest != nil {
		return newBotForTest(token)
	}
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: Type, DisplayName: "Telegram"}
}

// ParseWebhook normalizes a Bot API webhook update. One update carries at
// most one message; edited messages, channel posts, and service updates
// yield nothing. The route key stays empty: Telegram integrations are
// matched by the X-Telegram-Bot-Api-Secret-Token header at the entrypoint.
func (a *Adapter) ParseWebhook(body []byte) (channel.ParsedWebhook, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return channel.ParsedWebhook{}, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return channel.ParsedWebhook{}, nil
	}
	content, ok := mapContent(msg)
	if !ok {
		return channel.ParsedWebhook{}, nil
	}
	incoming := channel.IncomingMessage{
		Channel:           Type,
		ExternalMessageID: strconv.Itoa(msg.MessageID),
		ExternalContactID: strconv.FormatInt(msg.Chat.ID, 10),
		Content:           content,
		Contact: channel.ContactProfile{
			Name:     strings.TrimSpace(strings.TrimSpace(msg.From.FirstName) + " " + strings.TrimSpace(msg.From.LastName)),
			Username: strings.TrimSpace(msg.From.UserName),
		},
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}
	return channel.ParsedWebhook{Messages: []channel.IncomingMessage{incoming}}, nil
}

func mapContent(msg *tgbotapi.Message) (channel.Content, bool) {
	caption := strings.TrimSpace(msg.Caption)
	switch {
	case strings.TrimSpace(msg.Text) != "":
		return channel.Content{Type: channel.ContentText, Text: msg.Text}, true
	case len(msg.Photo) > 0:
		// Telegram sends every thumbnail size; the last entry is the original.
		photo := msg.Photo[len(msg.Photo)-1]
		return channel.Content{
			Type:    channel.ContentImage,
			Caption: caption,
			Raw:     map[string]any{"file_id": photo.FileID},
		}, true
	case msg.Voice != nil:
		return channel.Content{
			Type:      channel.ContentAudio,
			MediaType: msg.Voice.MimeType,
			Raw:       map[string]any{"file_id": msg.Voice.FileID},
		}, true
	case msg.Audio != nil:
		return channel.Content{
			Type:      channel.ContentAudio,
			MediaType: msg.Audio.MimeType,
			Caption:   caption,
			Raw:       map[string]any{"file_id": msg.Audio.FileID},
		}, true
	case msg.Video != nil:
		return channel.Content{
			Type:      channel.ContentVideo,
			MediaType: msg.Video.MimeType,
			Caption:   caption,
			Raw:       map[string]any{"file_id": msg.Video.FileID},
		}, true
	case msg.Document != nil:
		return channel.Content{
			Type:      channel.ContentDocument,
			MediaType: msg.Document.MimeType,
			FileName:  msg.Document.FileName,
			Caption:   caption,
			Raw:       map[string]any{"file_id": msg.Document.FileID},
		}, true
	case msg.Sticker != nil:
		return channel.Content{
			Type: channel.ContentSticker,
			Raw:  map[string]any{"file_id": msg.Sticker.FileID, "emoji": msg.Sticker.Emoji},
		}, true
	case msg.Location != nil:
		return channel.Content{
			Type:      channel.ContentLocation,
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
		}, true
	case msg.Contact != nil:
		return channel.Content{
			Type:         channel.ContentContact,
			ContactName:  strings.TrimSpace(strings.TrimSpace(msg.Contact.FirstName) + " " + strings.TrimSpace(msg.Contact.LastName)),
			ContactPhone: msg.Contact.PhoneNumber,
		}, true
	default:
		return channel.Content{}, false
	}
}

// Send delivers content through the Bot API and returns the Telegram message
// id. The target is the numeric chat id recorded as the conversation's
// external contact id.
func (a *Adapter) Send(ctx context.Context, cfg channel.IntegrationConfig, target string, content channel.Content) (string, error) {
	token := cfg.Credential("bot_token")
	if token == "" {
		return "", channel.NewSendError(channel.ReasonNotConfigured, fmt.Errorf("integration %s: bot_token missing", cfg.ID))
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return "", channel.NewSendError(channel.ReasonRejected, fmt.Errorf("invalid telegram chat id %q", target))
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return "", classifySendError(err)
	}
	chattable, err := buildChattable(chatID, content)
	if err != nil {
		return "", err
	}
	sent, err := bot.Send(chattable)
	if err != nil {
		return "", classifySendError(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func buildChattable(chatID int64, content channel.Content) (tgbotapi.Chattable, error) {
	switch content.Type {
	case channel.ContentText:
		return tgbotapi.NewMessage(chatID, content.Text), nil
	case channel.ContentImage:
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("image content requires media_url"))
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(content.MediaURL))
		photo.Caption = content.Caption
		return photo, nil
	case channel.ContentVideo:
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("video content requires media_url"))
		}
		video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(content.MediaURL))
		video.Caption = content.Caption
		return video, nil
	case channel.ContentAudio:
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("audio content requires media_url"))
		}
		return tgbotapi.NewAudio(chatID, tgbotapi.FileURL(content.MediaURL)), nil
	case channel.ContentDocument:
		if strings.TrimSpace(content.MediaURL) == "" {
			return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("document content requires media_url"))
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(content.MediaURL))
		doc.Caption = content.Caption
		return doc, nil
	case channel.ContentLocation:
		return tgbotapi.NewLocation(chatID, content.Latitude, content.Longitude), nil
	default:
		return nil, channel.NewSendError(channel.ReasonRejected, fmt.Errorf("content type %q not sendable on telegram", content.Type))
	}
}

func classifySendError(err error) error {
	if code, ok := apiErrorCode(err); ok {
		if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
			return channel.NewSendError(channel.ReasonTransient, err)
		}
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			return channel.NewSendError(channel.ReasonNotConfigured, err)
		}
		return channel.NewSendError(channel.ReasonRejected, err)
	}
	return channel.NewSendError(channel.ReasonTransient, err)
}

// apiErrorCode digs a Bot API status code out of an error chain. MakeRequest
// returns *tgbotapi.Error; the value form is matched too for errors wrapped
// by value.
func apiErrorCode(err error) (int, bool) {
	var apiErrPtr *tgbotapi.Error
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}
