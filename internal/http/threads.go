package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/store"
	"github.com/nextlevelbuilder/threadrun/internal/threads"
	"github.com/nextlevelbuilder/threadrun/pkg/protocol"
)

// ThreadService is the thread API a request is served against.
// *threads.Manager implements it.
type ThreadService interface {
	CreateThread(ctx context.Context, orgID, contactName, contactIdentifier string) (*store.Thread, error)
	CloseThread(ctx context.Context, orgID string, threadID int64, agentVersion string) (*store.Thread, *string, error)
	AddMessage(ctx context.Context, orgID string, threadID int64, msgType store.MessageType, content []store.MessageContent) (*store.Message, error)
	RemoveMessage(ctx context.Context, orgID string, threadID, messageID int64) error
	RunThread(ctx context.Context, orgID string, threadID int64, agentVersion string, emit threads.EmitFunc) error
}

// Binder returns a ThreadService bound to a connection held for the whole
// request, and the func that gives the connection back.
type Binder func(ctx context.Context) (ThreadService, func(), error)

// ThreadsHandler serves the thread endpoints.
type ThreadsHandler struct {
	bind    Binder
	token   string
	maxBody int64
	allow   func(key string) bool // nil = no rate limit
	track   func() func()         // nil = untracked
}

// NewThreadsHandler creates a handler for the thread endpoints.
func NewThreadsHandler(bind Binder, token string, maxBody int64) *ThreadsHandler {
	return &ThreadsHandler{bind: bind, token: token, maxBody: maxBody}
}

// SetRateLimiter sets the per-organization admission check.
func (h *ThreadsHandler) SetRateLimiter(allow func(key string) bool) { h.allow = allow }

// SetTracker sets the in-flight request hook. It returns the func that marks the request done.
func (h *ThreadsHandler) SetTracker(track func() func()) { h.track = track }

// RegisterRoutes registers all thread routes on the given mux.
func (h *ThreadsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /threads", h.wrap(protocol.OpCreateThread, h.handleCreate))
	mux.HandleFunc("POST /threads/{id}/close", h.wrap(protocol.OpCloseThread, h.handleClose))
	mux.HandleFunc("POST /threads/{id}/messages", h.wrap(protocol.OpAddMessage, h.handleAddMessage))
	mux.HandleFunc("POST /threads/{id}/messages/{messageID}/remove", h.wrap(protocol.OpRemoveMessage, h.handleRemoveMessage))
	mux.HandleFunc("POST /threads/{id}/run", h.wrap(protocol.OpRunThread, h.handleRun))
}

type boundHandler func(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string)

// wrap applies auth, organization, rate limit and body limit checks, binds a
// ThreadService for the request and logs the elapsed time.
func (h *ThreadsHandler) wrap(op string, next boundHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if h.token != "" && extractBearerToken(r) != h.token {
			writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "unauthorized"})
			return
		}
		orgID := extractOrganizationID(r)
		if orgID == "" {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: orgHeader + " header required"})
			return
		}
		if h.allow != nil && !h.allow(orgID) {
			writeJSON(w, http.StatusTooManyRequests, protocol.ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		if h.track != nil {
			done := h.track()
			defer done()
		}
		if h.maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		}

		svc, release, err := h.bind(r.Context())
		if err != nil {
			slog.Error("bind store failed", "op", op, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, protocol.ErrorResponse{Error: "database unavailable"})
			return
		}
		defer release()

		next(w, r, svc, orgID)
		slog.Info(op+" finished", "org", orgID, "elapsed", time.Since(start))
	}
}

func (h *ThreadsHandler) handleCreate(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string) {
	var req protocol.CreateThreadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := svc.CreateThread(r.Context(), orgID, req.ContactName, req.ContactIdentifier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse(t))
}

func (h *ThreadsHandler) handleClose(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req protocol.CloseThreadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, summary, err := svc.CloseThread(r.Context(), orgID, threadID, req.AgentVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.CloseThreadResponse{ThreadID: t.ID, IsOpen: t.IsOpen, Summary: summary})
}

func (h *ThreadsHandler) handleAddMessage(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req protocol.AddMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := svc.AddMessage(r.Context(), orgID, threadID, store.MessageType(req.MessageType), threads.ContentFromProtocol(req.Content))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.MessageResponse{
		ID:          msg.ID,
		MessageType: string(msg.Type),
		Content:     threads.ContentToProtocol(msg.Content),
	})
}

func (h *ThreadsHandler) handleRemoveMessage(w http.ResponseWriter, r *http.Request, svc ThreadService, orgID string) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	if err := svc.RemoveMessage(r.Context(), orgID, threadID, messageID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.RemoveMessageResponse{MessageID: messageID})
}

func threadResponse(t *store.Thread) protocol.ThreadResponse {
	return protocol.ThreadResponse{
		ThreadID:          t.ID,
		ContactName:       t.ContactName,
		ContactIdentifier: t.ContactIdentifier,
		IsOpen:            t.IsOpen,
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, protocol.ErrorResponse{Error: "request body too large"})
		return false
	}
	writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid JSON: " + err.Error()})
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: err.Error()})
	case errors.Is(err, threads.ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
