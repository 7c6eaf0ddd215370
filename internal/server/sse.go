package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/ragerr"
)

// sseStart commits the response as an event stream. After this, errors
// must be delivered as terminal events, not as an error envelope.
func sseStart(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// sseSend writes one `data: <json>` event and flushes it to the client.
func sseSend(c echo.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// sseSendError emits the terminal error event for an already-started
// stream, using the same kind/message vocabulary as the error envelope.
func sseSendError(c echo.Context, err error) {
	kind := string(ragerr.KindOf(err))
	if kind == "" {
		kind = "InternalError"
	}
	_ = sseSend(c, map[string]any{
		"error":   kind,
		"message": err.Error(),
	})
}
