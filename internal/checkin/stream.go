package checkin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServeEvents streams check-in updates as server-sent events. It sends a
// connected message first, then forwards bus messages, with a heartbeat
// whenever the stream has been idle for the heartbeat interval. Clients
// re-fetch the board after reconnecting; there is no resume token.
func (s *Service) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	updates, cancel, err := s.bus.Subscribe(ctx)
	if err != nil {
		s.logger.Error("check-in subscribe failed", "err", err)
		http.Error(w, "live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(msg Message) bool {
		if err := writeEvent(w, msg); err != nil {
			s.logger.Debug("check-in stream write failed", "err", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(Message{Type: TypeConnected, Timestamp: s.stamp()}) {
		return
	}
	s.logger.Debug("check-in stream opened", "remote", r.RemoteAddr)
	defer s.logger.Debug("check-in stream closed", "remote", r.RemoteAddr)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send(Message{Type: TypeHeartbeat, Timestamp: s.stamp()}) {
				return
			}
		case msg, ok := <-updates:
			if !ok {
				return
			}
			if !send(msg) {
				return
			}
			ticker.Reset(s.heartbeat)
		}
	}
}

func (s *Service) stamp() string {
	return s.clock.Now().Format(time.RFC3339Nano)
}

func writeEvent(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
