package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hubescolar/whatsapp/internal/registry"
	"github.com/hubescolar/whatsapp/internal/store"
)

// flexID accepts an identifier sent as a JSON string or number, since
// callers send numeric school ids as either.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type sessionRequest struct {
	SessionID flexID `json:"sessionId"`
}

type sendRequest struct {
	Phone     string            `json:"phone" validate:"required"`
	Message   string            `json:"message" validate:"required"`
	SessionID flexID            `json:"sessionId"`
	UserID    flexID            `json:"userId"`
	UserName  string            `json:"userName"`
	Metadata  map[string]string `json:"metadata"`
}

type bulkRequest struct {
	Phones    []string          `json:"phones" validate:"required,min=1,max=500"`
	Message   string            `json:"message" validate:"required"`
	SessionID flexID            `json:"sessionId"`
	UserID    flexID            `json:"userId"`
	UserName  string            `json:"userName"`
	Metadata  map[string]string `json:"metadata"`
}

type batchRequest struct {
	MessageIDs []flexID `json:"messageIds" validate:"required,min=1,max=500"`
}

type messageDTO struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Phone     string            `json:"phone"`
	Message   string            `json:"message"`
	Direction string            `json:"direction"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func toMessageDTO(m *store.Message) messageDTO {
	return messageDTO{
		ID:        m.ID,
		SessionID: m.SessionID,
		Phone:     m.Phone,
		Message:   m.Body,
		Direction: string(m.Direction),
		Status:    string(m.Status),
		Metadata:  m.MergedMetadata(),
		CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
	}
}

func toMessageDTOs(msgs []store.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}
	return out
}

type batchEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	Phone     string    `json:"phone"`
}

type sessionDTO struct {
	SessionID     string    `json:"sessionId"`
	IsReady       bool      `json:"isReady"`
	IsInitialized bool      `json:"isInitialized"`
	Status        string    `json:"status"`
	PhoneNumber   *string   `json:"phoneNumber"`
	HasQR         bool      `json:"hasQr"`
	Failure       string    `json:"failure,omitempty"`
	Since         time.Time `json:"since"`
}

func toSessionDTO(info registry.Info) sessionDTO {
	return sessionDTO{
		SessionID:     info.SessionID,
		IsReady:       info.IsReady,
		IsInitialized: info.IsInitialized,
		Status:        string(info.State),
		PhoneNumber:   optional(info.PhoneNumber),
		HasQR:         info.HasQR,
		Failure:       info.Failure,
		Since:         info.Since.UTC(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
