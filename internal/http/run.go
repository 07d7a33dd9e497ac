package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/threadrun/pkg/protocol"
)

func (h *ThreadsHandler) handleRun(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req protocol.RunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentVersion == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "agent_version is required"})
		return
	}

	stream := newEventStream(w)
	err := svc.RunThread(r.Context(), orgID, threadID, req.AgentVersion, stream.send)
	if err == nil {
		return
	}
	if !stream.started {
		writeError(w, err)
		return
	}
	slog.Warn("run stream closed early", "thread_id", threadID, "org", orgID, "error", err)
}

// eventStream writes run events as server-sent events. Headers go out with the
// first event so errors found before the run starts can still be sent as JSON.
type eventStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w)}
}

func (s *eventStream) send(ev protocol.RunEvent) error {
	frame, err := protocol.Frame(ev)
	if err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}
