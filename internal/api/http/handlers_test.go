package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/testutil"
)

type testServer struct {
	router   *gin.Engine
	registry *shell.Registry
	terms    []*testutil.FakeTerminal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{router: gin.New()}
	ts.registry = shell.NewRegistry(func(shell.CreateRequest) shell.Terminal {
		term := testutil.NewFakeTerminal()
		ts.terms = append(ts.terms, term)
		return term
	}, shell.Options{WorkingDir: "/home/user", Home: "/home/user"})
	t.Cleanup(func() { _ = ts.registry.Close() })

	metrics := monitoring.NewMetrics()
	t.Cleanup(metrics.Close)

	NewHandlers(ts.registry, metrics, nil).Register(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createSession(t *testing.T) shell.Info {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info shell.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	return info
}

// blockJSON mirrors the wire shape of a block
type blockJSON struct {
	ID               string `json:"id"`
	Command          string `json:"command"`
	Output           string `json:"output"`
	Status           string `json:"status"`
	ExitCode         *int   `json:"exit_code"`
	WorkingDirectory string `json:"working_directory"`
	Expanded         bool   `json:"expanded"`
}

func decodeBlock(t *testing.T, w *httptest.ResponseRecorder) blockJSON {
	t.Helper()
	var b blockJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b), w.Body.String())
	return b
}

func (ts *testServer) waitBlock(t *testing.T, sid, blockID string) blockJSON {
	t.Helper()
	var b blockJSON
	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/sessions/"+sid+"/blocks/"+blockID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		b = decodeBlock(t, w)
		return b.Status != block.StatusPending.String() && b.Status != block.StatusExecuting.String()
	}, 3*time.Second, 10*time.Millisecond)
	return b
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "termblocks")

	ts.createSession(t)
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["active_sessions"])
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	info := ts.createSession(t)
	assert.True(t, info.Active)
	assert.Equal(t, "/home/user", info.WorkingDirectory)

	w := ts.do(t, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(info.ID))

	w = ts.do(t, http.MethodGet, "/sessions/"+string(info.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/"+string(info.ID)+"/resize", map[string]int{"cols": 120, "rows": 40})
	assert.Equal(t, http.StatusOK, w.Code)
	cols, rows := ts.terms[0].Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)

	w = ts.do(t, http.MethodDelete, "/sessions/"+string(info.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions/"+string(info.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/sessions", map[string]interface{}{"working_directory": "relative"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions", map[string]interface{}{"cols": 0, "rows": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions", map[string]interface{}{"working_directory": "/srv"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"working_directory":"/srv"`)
}

func TestSubmitAndFetchBlock(t *testing.T) {
	ts := newTestServer(t)
	sid := string(ts.createSession(t).ID)

	w := ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks", map[string]string{"command": "echo 'Test Output'"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	submitted := decodeBlock(t, w)
	assert.Equal(t, "echo 'Test Output'", submitted.Command)
	assert.Equal(t, "/home/user", submitted.WorkingDirectory)

	done := ts.waitBlock(t, sid, submitted.ID)
	assert.Equal(t, "success", done.Status)
	assert.Equal(t, "Test Output\n", done.Output)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)

	w = ts.do(t, http.MethodGet, "/sessions/"+sid+"/blocks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t)
	sid := string(ts.createSession(t).ID)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing command", map[string]string{}},
		{"blank command", map[string]string{"command": "   "}},
		{"control character", map[string]string{"command": "sleep 1\x03"}},
		{"relative cwd", map[string]string{"command": "ls", "working_directory": "tmp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	w := ts.do(t, http.MethodPost, "/sessions/sess_missing/blocks", map[string]string{"command": "ls"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions/bad.id/blocks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelBlock(t *testing.T) {
	ts := newTestServer(t)
	sid := string(ts.createSession(t).ID)

	w := ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks", map[string]string{"command": "sleep 30"})
	require.Equal(t, http.StatusCreated, w.Code)
	running := decodeBlock(t, w)

	w = ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks/"+running.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	canceled := decodeBlock(t, w)
	assert.Equal(t, "canceled", canceled.Status)
	require.NotNil(t, canceled.ExitCode)
	assert.Equal(t, 130, *canceled.ExitCode)

	// already terminal
	w = ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks/"+running.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks/blk_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateAndClearBlocks(t *testing.T) {
	ts := newTestServer(t)
	sid := string(ts.createSession(t).ID)

	w := ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks", map[string]string{"command": "echo hi"})
	require.Equal(t, http.StatusCreated, w.Code)
	b := ts.waitBlock(t, sid, decodeBlock(t, w).ID)
	assert.True(t, b.Expanded)

	w = ts.do(t, http.MethodPatch, "/sessions/"+sid+"/blocks/"+b.ID, map[string]bool{"expanded": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBlock(t, w).Expanded)

	w = ts.do(t, http.MethodPatch, "/sessions/"+sid+"/blocks/"+b.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/sessions/"+sid+"/blocks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":1`)

	w = ts.do(t, http.MethodGet, "/sessions/"+sid+"/blocks/"+b.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkingDirectoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	sid := string(ts.createSession(t).ID)

	w := ts.do(t, http.MethodPost, "/sessions/"+sid+"/blocks", map[string]string{"command": "cd /var/log"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions/"+sid+"/cwd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"current":"/var/log","previous":"/home/user"}`, w.Body.String())
}

func TestSubmitToExitedSession(t *testing.T) {
	ts := newTestServer(t)
	info := ts.createSession(t)
	s, err := ts.registry.Get(info.ID)
	require.NoError(t, err)

	ts.terms[0].Exit(nil)
	<-s.Done()

	w := ts.do(t, http.MethodPost, "/sessions/"+string(info.ID)+"/blocks", map[string]string{"command": "ls"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failure"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(block.ErrNotFound))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(block.ErrQueueFull))
	assert.Equal(t, http.StatusConflict, statusFor(block.ErrTerminal))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(shell.ErrSpawnSuspended))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
