package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/ragerr"
)

// errorEnvelope is the JSON error shape on every non-2xx response.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// handleError converts any error escaping a handler into the envelope.
// Typed errors carry their kind and status; echo's own errors (404 route,
// body limit, auth) are mapped onto the taxonomy.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		// Streaming responses handle their own terminal error events.
		return
	}

	env, status := envelopeFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("uri", c.Request().RequestURI),
			slog.Any("error", err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, env)
}

func envelopeFor(err error) (errorEnvelope, int) {
	var re *ragerr.Error
	if errors.As(err, &re) {
		env := errorEnvelope{Error: string(re.Kind), Message: re.Message}
		if len(re.Details) > 0 {
			env.Details = re.Details
		}
		return env, re.HTTPStatus()
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		return errorEnvelope{Error: kindForStatus(he.Code), Message: msg}, he.Code
	}

	return errorEnvelope{Error: "InternalError", Message: "internal server error"}, http.StatusInternalServerError
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return string(ragerr.KindValidation)
	case http.StatusUnauthorized, http.StatusForbidden:
		return "AuthError"
	case http.StatusNotFound:
		return string(ragerr.KindNotFound)
	case http.StatusTooManyRequests:
		return string(ragerr.KindRateLimit)
	default:
		return "InternalError"
	}
}
