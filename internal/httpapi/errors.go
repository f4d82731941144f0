package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/gateway"
	"github.com/hubescolar/whatsapp/internal/lifecycle"
	"github.com/hubescolar/whatsapp/internal/store"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// classify maps an error to a status code and a client-facing message.
func classify(err error) (int, string) {
	var (
		httpErr    *echo.HTTPError
		validErrs  validator.ValidationErrors
		validErr   *gateway.ValidationError
		notReady   *lifecycle.SessionNotReadyError
		initErr    *lifecycle.InitializationError
		timeoutErr *gateway.SendTimeoutError
		sendErr    *gateway.SendError
		disconnErr *lifecycle.DisconnectError
	)
	switch {
	case errors.As(err, &httpErr):
		if inner, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = inner
		}
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	case errors.As(err, &validErrs):
		return http.StatusBadRequest, describeValidation(validErrs)
	case errors.As(err, &validErr):
		return http.StatusBadRequest, validErr.Error()
	case errors.Is(err, lifecycle.ErrInvalidSessionID):
		return http.StatusBadRequest, "invalid sessionId: use 1 to 64 letters, digits, '-' or '_'"
	case errors.As(err, &notReady):
		return http.StatusServiceUnavailable, notReady.Error()
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable, fmt.Sprintf("WhatsApp session %s could not be started", initErr.SessionID)
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "WhatsApp did not confirm the message in time; it was recorded as failed"
	case errors.As(err, &sendErr):
		return http.StatusInternalServerError, "Error sending message"
	case errors.As(err, &disconnErr):
		return http.StatusInternalServerError, "Error disconnecting WhatsApp"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Message not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must have at least %s items", fe.Field(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must have at most %s items", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

// handleError is the echo HTTPErrorHandler. Every failure body carries
// success=false; the error detail is omitted in production.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, message := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(message, zap.Error(err), zap.String("route", c.Path()))
	} else {
		s.logger.Debug(message, zap.Error(err), zap.String("route", c.Path()))
	}

	body := errorResponse{Success: false, Message: message}
	if !s.cfg.Production() {
		body.Error = err.Error()
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Error("failed to write error response", zap.Error(err))
	}
}
