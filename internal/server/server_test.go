package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthive/internal/artifact"
	"agenthive/internal/bus"
	"agenthive/internal/config"
	"agenthive/internal/llm"
	"agenthive/internal/runtime"
)

func newUserReport(rt *runtime.Runtime, taskID, text string) bus.Message {
	return bus.NewMessage(rt.Registry().RootID(), bus.UserEndpoint, taskID, map[string]any{
		"text": text,
	})
}

func newTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "mock"
	cfg.Artifacts.Backend = "memory"
	cfg.Bus.DefaultWaitTimeout = "50ms"

	rt, err := runtime.New(runtime.Options{
		Config:   cfg,
		Provider: llm.NewMockProvider("No actions."),
	})
	require.NoError(t, err)
	return New(rt), rt
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitTask(t *testing.T) {
	s, rt := newTestServer(t)

	rec := postJSON(t, s, "/v0/tasks", map[string]any{"text": "build the report"})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	taskID := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	req, ok := rt.Requirement(taskID)
	require.True(t, ok)
	assert.Equal(t, "build the report", req.Text)
	assert.NotEmpty(t, rt.Registry().RootID(), "first task must spawn the root agent")
}

func TestSubmitTaskEmptyText(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postJSON(t, s, "/v0/tasks", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "submit_failed", decode(t, rec)["error"])
}

func TestSendMessageUnknownRecipient(t *testing.T) {
	s, _ := newTestServer(t)
	rec := postJSON(t, s, "/v0/messages", map[string]any{"to": "ghost", "text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "send_failed", decode(t, rec)["error"])
}

func TestSendAndWaitMessage(t *testing.T) {
	s, rt := newTestServer(t)

	rec := postJSON(t, s, "/v0/tasks", map[string]any{"text": "boot"})
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decode(t, rec)["task_id"].(string)

	rec = postJSON(t, s, "/v0/messages", map[string]any{
		"to":      rt.Registry().RootID(),
		"task_id": taskID,
		"text":    "extra detail",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Nothing addressed to the user yet: the wait endpoint times out with a
	// matched=false body, not an error status.
	req := httptest.NewRequest(http.MethodGet, "/v0/messages/wait?timeout_ms=40", nil)
	wrec := httptest.NewRecorder()
	s.Handler().ServeHTTP(wrec, req)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, false, decode(t, wrec)["matched"])

	// An agent report becomes visible to the wait endpoint.
	_, err := rt.Bus().Send(newUserReport(rt, taskID, "finished"))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/v0/messages/wait?task_id="+taskID+"&timeout_ms=500", nil)
	wrec = httptest.NewRecorder()
	s.Handler().ServeHTTP(wrec, req)
	require.Equal(t, http.StatusOK, wrec.Code)
	body := decode(t, wrec)
	require.Equal(t, true, body["matched"])
	msg := body["message"].(map[string]any)
	assert.Equal(t, taskID, msg["task_id"])
}

func TestGetArtifact(t *testing.T) {
	s, rt := newTestServer(t)

	ref, err := rt.Artifacts().Put(artifact.TypeJSON, []byte(`{"k":"v"}`), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v0/artifacts/"+ref.ID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestGetArtifactNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v0/artifacts/ghost", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "artifact_not_found", decode(t, rec)["error"])
}

func TestGetArtifactReserved(t *testing.T) {
	s, rt := newTestServer(t)
	ref, err := rt.Artifacts().Reserve("mp4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v0/artifacts/"+ref.ID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "artifact_pending", decode(t, rec)["error"])
}

func TestListAgents(t *testing.T) {
	s, rt := newTestServer(t)

	rec := postJSON(t, s, "/v0/tasks", map[string]any{"text": "boot"})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v0/agents", nil)
	arec := httptest.NewRecorder()
	s.Handler().ServeHTTP(arec, req)
	require.Equal(t, http.StatusOK, arec.Code)

	body := decode(t, arec)
	assert.Equal(t, rt.Registry().RootID(), body["root"])
	agents := body["agents"].([]any)
	require.Len(t, agents, 1)
	root := agents[0].(map[string]any)
	assert.Equal(t, "coordinator", root["role"])
	assert.Equal(t, "active", root["status"])
}
