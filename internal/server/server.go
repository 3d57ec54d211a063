// Package server exposes the runtime over HTTP: requirement intake, the
// user messaging boundary, artifact reads, the agent listing, and the
// front-end websocket.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agenthive/internal/artifact"
	"agenthive/internal/logging"
	"agenthive/internal/runtime"
	"agenthive/internal/uibridge"
)

// maxWaitMs bounds the blocking wait endpoint so a client cannot park a
// handler forever.
const maxWaitMs = 120000

// Server is the HTTP surface over one runtime.
type Server struct {
	rt     *runtime.Runtime
	router chi.Router
}

// New builds the server and its routes.
func New(rt *runtime.Runtime) *Server {
	s := &Server{rt: rt}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v0", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/messages", s.handleSendMessage)
		r.Get("/messages/wait", s.handleWaitMessage)
		r.Get("/artifacts/{id}", s.handleGetArtifact)
		r.Get("/agents", s.handleListAgents)
		r.Get("/ui/ws", s.handleUISocket)
	})

	s.router = r
	return s
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler { return s.router }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

type submitTaskRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	taskID, err := s.rt.SubmitRequirement(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "submit_failed", err)
		return
	}

	logging.Server("POST /v0/tasks -> %s", taskID)
	writeJSON(w, http.StatusCreated, map[string]any{"task_id": taskID})
}

type sendMessageRequest struct {
	To      string         `json:"to"`
	TaskID  string         `json:"task_id"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{"text": req.Text}
	}

	msg, err := s.rt.SendUserMessage(req.To, req.TaskID, payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, runtime.ErrUnknownRecipient) {
			status = http.StatusNotFound
		}
		writeError(w, status, "send_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleWaitMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeoutMs := s.waitTimeoutMs(q.Get("timeout_ms"))

	res, err := s.rt.WaitForUserMessage(r.Context(),
		q.Get("from"), q.Get("task_id"),
		time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, "wait_interrupted", err)
		return
	}
	if !res.Matched {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": true, "message": res.Message})
}

func (s *Server) waitTimeoutMs(raw string) int {
	timeoutMs := int(s.rt.Config().GetDefaultWaitTimeout() / time.Millisecond)
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		timeoutMs = v
	}
	if timeoutMs > maxWaitMs {
		timeoutMs = maxWaitMs
	}
	return timeoutMs
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.rt.Artifacts().Get(artifact.Ref{ID: id})
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "artifact_not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "artifact_read_failed", err)
		return
	}
	if a.Reserved() {
		writeError(w, http.StatusConflict, "artifact_pending", errors.New("artifact is reserved and not complete yet"))
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(a.Type))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Content)
}

func contentTypeFor(typ string) string {
	switch typ {
	case artifact.TypeJSON:
		return "application/json"
	case artifact.TypeText:
		return "text/plain; charset=utf-8"
	case artifact.TypeImage:
		return "image/png"
	default:
		if typ != "" && typ != artifact.TypeBinary {
			// Fetched artifacts store the upstream content type directly.
			return typ
		}
		return "application/octet-stream"
	}
}

type agentView struct {
	ID       string   `json:"id"`
	Role     string   `json:"role"`
	ParentID string   `json:"parent_id,omitempty"`
	Status   string   `json:"status"`
	Children []string `json:"children,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.rt.Registry().List()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView{
			ID:       a.ID,
			Role:     s.rt.Registry().RoleName(a.ID),
			ParentID: a.ParentID,
			Status:   string(a.Status),
			Children: a.Children,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":   s.rt.Registry().RootID(),
		"agents": out,
	})
}

func (s *Server) handleUISocket(w http.ResponseWriter, r *http.Request) {
	if _, err := uibridge.Upgrade(s.rt.Broker(), w, r); err != nil {
		logging.Server("ui websocket upgrade failed: %v", err)
		return
	}
	logging.Server("ui client connected from %s", r.RemoteAddr)
}
