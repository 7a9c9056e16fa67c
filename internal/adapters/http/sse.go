package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type deltaEvent struct {
	Text string `json:"text"`
}

// eventStream writes server-sent events. Headers go out with the first
// event, so a failure before any output can still become a JSON error.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &eventStream{w: w, flusher: flusher}, true
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *eventStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	s.start()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) done() error {
	s.start()
	if _, err := io.WriteString(s.w, "event: done\ndata: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
