package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/hubescolar/whatsapp/internal/store"
)

// ParseInbound normalizes a live message from sender.
func ParseInbound(evt *events.Message, sender types.JID) InboundMessage {
	return InboundMessage{
		ProviderID: evt.Info.ID,
		Phone:      sender.User,
		PushName:   evt.Info.PushName,
		Body:       extractTextBody(evt.Message),
		Kind:       detectMessageType(evt.Message),
		Timestamp:  evt.Info.Timestamp,
	}
}

// ToStoreMessage converts an inbound message into an incoming record.
// Receipt of an inbound message is its delivery, so it starts as delivered.
func (m InboundMessage) ToStoreMessage(id, sessionID string) *store.Message {
	meta := store.Metadata{"kind": m.Kind}
	if m.PushName != "" {
		meta["pushName"] = m.PushName
	}
	var created int64
	if !m.Timestamp.IsZero() {
		created = m.Timestamp.UnixMilli()
	}
	return &store.Message{
		ID:         id,
		SessionID:  sessionID,
		Phone:      m.Phone,
		Body:       m.Body,
		Direction:  store.Incoming,
		Status:     store.StatusDelivered,
		ProviderID: m.ProviderID,
		Metadata:   meta,
		CreatedAt:  created,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
