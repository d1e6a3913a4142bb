package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ObjectBusinessAccount is the object value of every WhatsApp webhook
const ObjectBusinessAccount = "whatsapp_business_account"

// ErrNotWhatsApp is returned for webhook payloads of another object type
var ErrNotWhatsApp = errors.New("payload is not a whatsapp_business_account event")

// Kind tags an inbound event
type Kind string

const (
	KindText        Kind = "text"
	KindInteractive Kind = "interactive"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindUnsupported Kind = "unsupported"
)

// Event is an inbound message normalized from the webhook payload
type Event interface {
	Kind() Kind
	Sender() string
	MessageID() string
}

// Meta is common to every event
type Meta struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Meta) Sender() string    { return m.From }
func (m Meta) MessageID() string { return m.ID }

// TextEvent is a plain text message
type TextEvent struct {
	Meta
	Body string `json:"body"`
}

func (TextEvent) Kind() Kind { return KindText }

// InteractiveEvent is a reply button press
type InteractiveEvent struct {
	Meta
	ButtonID string `json:"button_id"`
	Title    string `json:"title"`
}

func (InteractiveEvent) Kind() Kind { return KindInteractive }

// ImageEvent is a photo, usually of a receipt
type ImageEvent struct {
	Meta
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

func (ImageEvent) Kind() Kind { return KindImage }

// AudioEvent is a voice note or audio file
type AudioEvent struct {
	Meta
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type"`
	Voice    bool   `json:"voice"`
}

func (AudioEvent) Kind() Kind { return KindAudio }

// UnsupportedEvent is any other message type
type UnsupportedEvent struct {
	Meta
	Type string `json:"type"`
}

func (UnsupportedEvent) Kind() Kind { return KindUnsupported }

// Webhook payload as sent by the Cloud API

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Image *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Voice    bool   `json:"voice"`
	} `json:"audio"`
}

// ParseWebhook decodes a webhook body into events. Status updates and other
// changes without messages produce no events.
func ParseWebhook(body []byte) ([]Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if payload.Object != ObjectBusinessAccount {
		return nil, ErrNotWhatsApp
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				events = append(events, normalize(msg))
			}
		}
	}
	return events, nil
}

func normalize(msg inboundMessage) Event {
	meta := Meta{From: msg.From, ID: msg.ID, Timestamp: parseUnix(msg.Timestamp)}

	switch {
	case msg.Type == "text" && msg.Text != nil:
		return TextEvent{Meta: meta, Body: msg.Text.Body}
	case msg.Type == "interactive" && msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		return InteractiveEvent{
			Meta:     meta,
			ButtonID: msg.Interactive.ButtonReply.ID,
			Title:    msg.Interactive.ButtonReply.Title,
		}
	case msg.Type == "image" && msg.Image != nil:
		return ImageEvent{Meta: meta, MediaID: msg.Image.ID, MimeType: msg.Image.MimeType, Caption: msg.Image.Caption}
	case msg.Type == "audio" && msg.Audio != nil:
		return AudioEvent{Meta: meta, MediaID: msg.Audio.ID, MimeType: msg.Audio.MimeType, Voice: msg.Audio.Voice}
	default:
		return UnsupportedEvent{Meta: meta, Type: msg.Type}
	}
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
