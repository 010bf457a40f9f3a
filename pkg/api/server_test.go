package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
	"mq_agent/pkg/session"
)

type fakeExecutor struct {
	delay time.Duration
}

func (f *fakeExecutor) DispatchWait(ctx context.Context, cmd *models.Command) (*models.Response, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cmd.Action == "fail" {
		return models.NewError(cmd.ID, cmd.Action, errors.New("boom")), nil
	}
	return models.NewSuccess(cmd.ID, cmd.Action, cmd.Args["text"]), nil
}

type fakeCapabilities struct{}

func (fakeCapabilities) List() []registry.Descriptor {
	return []registry.Descriptor{{Action: "vibrate", Domain: "control", Kind: registry.KindRunOnce}}
}

type fakeSessions struct{}

func (fakeSessions) Snapshot() []session.Info {
	return []session.Info{{Capability: "camera", State: session.StateRunning}}
}

func newTestServer(delay time.Duration) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer("dev-1", &fakeExecutor{delay: delay}, fakeCapabilities{}, fakeSessions{}, nil)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	s := newTestServer(0)
	w, body := do(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dev-1", body["device_id"])
}

func TestCapabilitiesAndSessions(t *testing.T) {
	s := newTestServer(0)

	w, body := do(t, s, http.MethodGet, "/api/v1/capabilities", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, body = do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	sessions := body["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	assert.Equal(t, "running", sessions[0].(map[string]interface{})["state"])
}

func TestExecuteCommandAndWait(t *testing.T) {
	s := newTestServer(0)

	w, body := do(t, s, http.MethodPost, "/api/v1/command", map[string]interface{}{
		"action": "echo", "args": map[string]interface{}{"text": "hi"}, "wait": true,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ExecCompleted, body["status"])
	resp := body["response"].(map[string]interface{})
	assert.Equal(t, "hi", resp["data"])

	w, body = do(t, s, http.MethodPost, "/api/v1/command", map[string]interface{}{"action": "fail", "wait": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ExecFailed, body["status"])
	assert.Equal(t, "boom", body["error"])
}

func TestExecuteCommandAsync(t *testing.T) {
	s := newTestServer(20 * time.Millisecond)

	w, body := do(t, s, http.MethodPost, "/api/v1/command", map[string]interface{}{"action": "echo"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	id := body["execution_id"].(string)

	assert.Eventually(t, func() bool {
		_, body := do(t, s, http.MethodGet, "/api/v1/command/"+id, nil)
		return body["status"] == ExecCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, body = do(t, s, http.MethodGet, "/api/v1/commands", nil)
	assert.Equal(t, float64(1), body["total"])

	w, _ = do(t, s, http.MethodGet, "/api/v1/command/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteCommandRequiresAction(t *testing.T) {
	s := newTestServer(0)
	w, body := do(t, s, http.MethodPost, "/api/v1/command", map[string]interface{}{"args": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request format", body["error"])
}

func TestCommandTimeout(t *testing.T) {
	s := newTestServer(5 * time.Second)
	execution := s.commandService.ExecuteCommand("echo", nil, 1)
	done, err := s.commandService.WaitForCompletion(execution.ID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ExecTimeout, done.Status)

	assert.Equal(t, 0, s.commandService.CleanupExecutions(60))
}
