package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// sseWriter frames JSON payloads as server-sent events and flushes
// after each write so clients see progress immediately.
type sseWriter struct {
	resp    *echo.Response
	flusher http.Flusher
}

func newSSEWriter(resp *echo.Response) *sseWriter {
	flusher, _ := resp.Writer.(http.Flusher)
	return &sseWriter{resp: resp, flusher: flusher}
}

func (w *sseWriter) WriteEvent(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
