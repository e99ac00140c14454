package chatwoot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventMessageCreated is the only webhook event the pipeline consumes.
const EventMessageCreated = "message_created"

// Direction is the message_type field of a webhook payload. Chatwoot
// emits it as a string in webhooks and as an integer in API responses,
// so unmarshalling accepts both.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionTemplate Direction = "template"
)

func (d *Direction) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*d = Direction(strings.ToLower(asString))
		return nil
	}
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		switch asInt {
		case 0:
			*d = DirectionIncoming
		case 1:
			*d = DirectionOutgoing
		case 2:
			*d = DirectionTemplate
		default:
			*d = Direction(strconv.Itoa(asInt))
		}
		return nil
	}
	return fmt.Errorf("chatwoot: message_type is neither string nor number: %s", string(data))
}

// Attachment is one attachment on an inbound message.
type Attachment struct {
	ID       int    `json:"id"`
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
	FileURL  string `json:"file_url"`
	FileSize int    `json:"file_size,omitempty"`
}

// Contact identifies the sender of an inbound message.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier"`
}

// webhookConversation carries the conversation fields the filter needs.
type webhookConversation struct {
	ID      int    `json:"id"`
	Channel string `json:"channel"`
	Meta    struct {
		Sender Contact `json:"sender"`
	} `json:"meta"`
}

// webhookEvent is the raw Chatwoot webhook payload.
type webhookEvent struct {
	Event        string              `json:"event"`
	ID           int                 `json:"id"`
	Content      string              `json:"content"`
	MessageType  Direction           `json:"message_type"`
	ContentType  string              `json:"content_type"`
	Private      bool                `json:"private"`
	Sender       Contact             `json:"sender"`
	Conversation webhookConversation `json:"conversation"`
	Account      struct {
		ID int `json:"id"`
	} `json:"account"`
	Attachments []Attachment `json:"attachments"`
}

// Content kinds of an inbound message.
const (
	KindText  = "text"
	KindAudio = "audio"
	KindImage = "image"
)

// InboundMessage is the validated, normalized form of a webhook event
// that passed the WhatsApp message filter. Everything downstream of the
// HTTP boundary works on this type, never on raw payloads.
type InboundMessage struct {
	MessageID      string
	ConversationID int
	AccountID      int
	Text           string
	Kind           string
	Attachments    []Attachment
	Sender         Contact
	ArrivedAt      time.Time
}

// ParseInbound decodes a webhook body and applies the intake filter:
// only message_created events on a WhatsApp channel with direction
// incoming proceed. A non-empty skip reason means the event is valid
// but not ours to process (respond 200 so Chatwoot does not retry);
// an error means the body is malformed.
func ParseInbound(data []byte, now time.Time) (*InboundMessage, string, error) {
	var evt webhookEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, "", fmt.Errorf("chatwoot: decode webhook: %w", err)
	}

	if evt.Event != EventMessageCreated {
		return nil, "event is not message_created", nil
	}
	if evt.MessageType != DirectionIncoming {
		return nil, "message is not incoming", nil
	}
	if evt.Private {
		return nil, "message is a private note", nil
	}
	if !isWhatsAppChannel(evt.Conversation.Channel) {
		return nil, "conversation is not on a whatsapp channel", nil
	}
	if evt.ID == 0 || evt.Conversation.ID == 0 {
		return nil, "", fmt.Errorf("chatwoot: webhook missing message or conversation id")
	}

	text := strings.TrimSpace(evt.Content)
	if text == "" && len(evt.Attachments) == 0 {
		return nil, "message has no content", nil
	}

	sender := evt.Sender
	if sender.ID == 0 && sender.PhoneNumber == "" {
		sender = evt.Conversation.Meta.Sender
	}

	return &InboundMessage{
		MessageID:      strconv.Itoa(evt.ID),
		ConversationID: evt.Conversation.ID,
		AccountID:      evt.Account.ID,
		Text:           text,
		Kind:           messageKind(evt.Attachments),
		Attachments:    evt.Attachments,
		Sender:         sender,
		ArrivedAt:      now,
	}, "", nil
}

func isWhatsAppChannel(channel string) bool {
	return strings.Contains(strings.ToLower(channel), "whatsapp")
}

// messageKind picks the dominant kind: any audio attachment makes the
// message audio (it will be transcribed), else any image makes it
// image, else it is text.
func messageKind(attachments []Attachment) string {
	for _, a := range attachments {
		if strings.EqualFold(a.FileType, "audio") {
			return KindAudio
		}
	}
	for _, a := range attachments {
		if strings.EqualFold(a.FileType, "image") {
			return KindImage
		}
	}
	return KindText
}
