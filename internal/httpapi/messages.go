package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hubescolar/whatsapp/internal/gateway"
	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/store"
)

func (s *Server) sendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	id, err := s.sessionID(string(req.SessionID))
	if err != nil {
		return err
	}
	res, err := s.gateway.SendMessage(c.Request().Context(), req.Phone, req.Message, gateway.SendOptions{
		SessionID:  id,
		SenderID:   string(req.UserID),
		SenderName: req.UserName,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"messageId": res.MessageID,
		"message":   "Message sent successfully",
		"status":    string(res.Status),
		"timestamp": res.Timestamp.UTC(),
	})
}

type bulkItemDTO struct {
	Phone     string `json:"phone"`
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) sendBulk(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	id, err := s.sessionID(string(req.SessionID))
	if err != nil {
		return err
	}
	res, err := s.gateway.SendBulk(c.Request().Context(), req.Phones, req.Message, gateway.SendOptions{
		SessionID:  id,
		SenderID:   string(req.UserID),
		SenderName: req.UserName,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return errors.Wrap(err, "send bulk")
	}

	results := make([]bulkItemDTO, 0, res.Sent)
	failures := make([]bulkItemDTO, 0, res.Failed)
	for _, item := range res.Items {
		if item.Err != nil {
			var sendErr *gateway.SendError
			dto := bulkItemDTO{Phone: item.Phone, Error: item.Err.Error()}
			if errors.As(item.Err, &sendErr) {
				dto.MessageID = sendErr.MessageID
				dto.Status = string(store.StatusFailed)
			}
			failures = append(failures, dto)
			continue
		}
		results = append(results, bulkItemDTO{
			Phone:     item.Phone,
			MessageID: item.Result.MessageID,
			Status:    string(item.Result.Status),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"totalSent":   res.Sent,
		"totalFailed": res.Failed,
		"results":     results,
		"errors":      failures,
	})
}

func (s *Server) listMessages(c echo.Context) error {
	f := store.ListFilter{
		Phone:     c.QueryParam("phone"),
		SessionID: c.QueryParam("sessionId"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		f.Limit = n
	}
	msgs, err := s.gateway.ListMessages(c.Request().Context(), f)
	if err != nil {
		return errors.Wrap(err, "list messages")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    toMessageDTOs(msgs),
		"count":   len(msgs),
	})
}

// messageStatus looks a record up by its exact id. With match=partial it
// instead lists the records whose id contains the fragment.
func (s *Server) messageStatus(c echo.Context) error {
	id := strings.TrimSpace(c.Param("messageId"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId is required")
	}
	ctx := c.Request().Context()

	if c.QueryParam("match") == "partial" {
		msgs, _ := s.gateway.PartialIDCandidates(ctx, id)
		if len(msgs) == 0 {
			return store.ErrNotFound
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"data":    toMessageDTOs(msgs),
			"count":   len(msgs),
		})
	}

	m, err := s.gateway.MessageStatus(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "message %s", id)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    toMessageDTO(m),
	})
}

func (s *Server) batchStatus(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ids := make([]string, 0, len(req.MessageIDs))
	for _, id := range req.MessageIDs {
		ids = append(ids, strings.TrimSpace(string(id)))
	}
	res, err := s.gateway.BatchStatus(c.Request().Context(), ids)
	if err != nil {
		return errors.Wrap(err, "batch status")
	}
	results := make(map[string]batchEntry, len(res.Found))
	for id, m := range res.Found {
		results[id] = batchEntry{
			Status:    string(m.Status),
			UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
			Phone:     m.Phone,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"results":  results,
		"notFound": res.NotFound,
		"count":    len(results),
	})
}

// serviceStatus summarizes the sessions and stored messages.
func (s *Server) serviceStatus(c echo.Context) error {
	infos := s.sessions.Sessions()
	byState := make(map[string]int, len(status.All))
	for _, st := range status.All {
		byState[string(st)] = 0
	}
	ready := 0
	for _, info := range infos {
		byState[string(info.State)]++
		if info.IsReady {
			ready++
		}
	}

	resp := map[string]any{
		"success":   true,
		"service":   "whatsapp",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"total":   len(infos),
			"ready":   ready,
			"byState": byState,
		},
	}
	if s.stats != nil {
		counts, err := s.stats.CountByStatus(c.Request().Context())
		if err != nil {
			return errors.Wrap(err, "count messages")
		}
		messages := make(map[string]int, len(store.AllStatuses))
		for _, st := range store.AllStatuses {
			messages[string(st)] = counts[st]
		}
		resp["messages"] = messages
	}
	return c.JSON(http.StatusOK, resp)
}
