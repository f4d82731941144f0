package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/hubescolar/whatsapp/internal/store"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("boletim")}}, "boletim"},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("contrato")}}, "contrato"},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, "contact"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInbound(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	sender := types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 3}
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Maria (mãe do João)",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: types.DefaultUserServer},
				Sender: sender,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("Recebido, obrigada")},
	}

	got := ParseInbound(evt, sender)
	if got.Phone != "558592403672" {
		t.Errorf("Phone = %q, want 558592403672 (device suffix must not leak)", got.Phone)
	}
	if got.ProviderID != "MSG123" {
		t.Errorf("ProviderID = %q, want MSG123", got.ProviderID)
	}
	if got.Body != "Recebido, obrigada" || got.Kind != "text" {
		t.Errorf("Body/Kind = %q/%q", got.Body, got.Kind)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestInboundToStoreMessage(t *testing.T) {
	in := InboundMessage{
		ProviderID: "WA1",
		Phone:      "5511999999999",
		PushName:   "Bob",
		Body:       "test",
		Kind:       "text",
		Timestamp:  time.UnixMilli(42000),
	}

	sm := in.ToStoreMessage("id-1", "7")

	if sm.ID != "id-1" || sm.SessionID != "7" {
		t.Errorf("ID/SessionID = %q/%q", sm.ID, sm.SessionID)
	}
	if sm.Direction != store.Incoming {
		t.Errorf("Direction = %q, want incoming", sm.Direction)
	}
	if sm.Status != store.StatusDelivered {
		t.Errorf("Status = %q, want delivered", sm.Status)
	}
	if sm.CreatedAt != 42000 {
		t.Errorf("CreatedAt = %d, want 42000", sm.CreatedAt)
	}
	if sm.Metadata["pushName"] != "Bob" {
		t.Errorf("Metadata = %v, want pushName Bob", sm.Metadata)
	}
}
