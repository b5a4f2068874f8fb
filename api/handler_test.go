package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"vtools/config"
	"vtools/queue"
	"vtools/tools"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedGateway completes a call once its path is released.
type gatedGateway struct {
	gates map[string]chan struct{}
}

func (g *gatedGateway) Invoke(ctx context.Context, command string, args queue.Args) (queue.Result, error) {
	if gate, ok := g.gates[args.SourceFpath]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return queue.Result{}, ctx.Err()
		}
	}
	return queue.Result{OutputPath: args.SourceFpath + ".out"}, nil
}

func setupTestRouter(t *testing.T, gw queue.Gateway) (*gin.Engine, *config.Config, *tools.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{AuthEnable: false}
	if gw == nil {
		gw = &gatedGateway{}
	}
	reg, err := tools.NewRegistry(gw, queue.PolicyFailVisible, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	reg.Start(ctx)
	t.Cleanup(func() {
		cancel()
		reg.Close()
	})
	return SetupRouter(reg, cfg, zap.NewNop()), cfg, reg
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleListTools(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	w := doJSON(router, "GET", "/api/v1/tools", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	list := decode[[]map[string]any](t, w)
	require.Len(t, list, 4)
	assert.Equal(t, "trim", list[0]["id"])
	assert.Equal(t, "serial", list[0]["mode"])
	assert.Equal(t, "parallel", list[1]["mode"])
}

func TestHandleDrop_Parallel(t *testing.T) {
	gate := make(chan struct{})
	router, _, _ := setupTestRouter(t, &gatedGateway{gates: map[string]chan struct{}{"/a.flv": gate}})

	w := doJSON(router, "POST", "/api/v1/tools/flv2mp4/drop", DropRequest{Paths: []string{"/a.flv", "/b.mp4"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DropResponse](t, w)
	assert.Equal(t, []string{"/a.flv"}, resp.Accepted)
	assert.Equal(t, []string{"/b.mp4"}, resp.Rejected)
	assert.Equal(t, "only FLV files are accepted", resp.Warning)
	assert.False(t, resp.Staged)

	w = doJSON(router, "GET", "/api/v1/tools/flv2mp4/files", nil)
	files := decode[[]queue.TrackedFile](t, w)
	require.Len(t, files, 1)
	assert.Equal(t, queue.StateProcessing, files[0].State)

	close(gate)
	assert.Eventually(t, func() bool {
		files := decode[[]queue.TrackedFile](t, doJSON(router, "GET", "/api/v1/tools/flv2mp4/files", nil))
		return len(files) == 1 && files[0].State == queue.StateFinished
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(router, "POST", "/api/v1/tools/flv2mp4/clear-finished", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["removed"])
}

func TestHandleDrop_BadRequests(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	w := doJSON(router, "POST", "/api/v1/tools/flv2mp4/drop", map[string]any{"paths": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/v1/tools/flv2mp4/drop", DropRequest{Paths: []string{"relative.flv"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/v1/tools/nope/drop", DropRequest{Paths: []string{"/a.flv"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSerialFlow(t *testing.T) {
	router, _, reg := setupTestRouter(t, nil)

	w := doJSON(router, "POST", "/api/v1/tools/trim/drop", DropRequest{Paths: []string{"/x.mov", "/y.mov", "/noext"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DropResponse](t, w)
	assert.True(t, resp.Staged)
	assert.Equal(t, []string{"/noext"}, resp.Rejected)

	w = doJSON(router, "DELETE", "/api/v1/tools/trim/staged/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []queue.StagedFile{{Path: "/x.mov"}}, decode[[]queue.StagedFile](t, w))

	w = doJSON(router, "DELETE", "/api/v1/tools/trim/staged/7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, "POST", "/api/v1/tools/trim/commit", CommitRequest{Files: []queue.StagedFile{
		{Path: "/x.mov", Start: "0:01", End: "00:02.000"},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[map[string]any](t, w)
	assert.Len(t, body["fields"], 1)

	w = doJSON(router, "POST", "/api/v1/tools/trim/commit", CommitRequest{Files: []queue.StagedFile{
		{Path: "/x.mov", Start: "00:01.000", End: "00:02.000"},
	}})
	require.Equal(t, http.StatusAccepted, w.Code)

	_, e, err := reg.Tool("trim")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		f, ok := e.File("/x.mov")
		return ok && f.State == queue.StateFinished
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(router, "GET", "/api/v1/tools/trim/staged", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]queue.StagedFile](t, w))
}

func TestHandleWrongMode(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	w := doJSON(router, "GET", "/api/v1/tools/flv2mp4/staged", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, "POST", "/api/v1/tools/flv2mp4/commit", CommitRequest{})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, "DELETE", "/api/v1/tools/flv2mp4/staged", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRemoveFile(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	router, _, _ := setupTestRouter(t, &gatedGateway{gates: map[string]chan struct{}{"/a b.flv": gate}})

	w := doJSON(router, "POST", "/api/v1/tools/flv2mp4/drop", DropRequest{Paths: []string{"/a b.flv"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "DELETE", "/api/v1/tools/flv2mp4/files?path="+url.QueryEscape("/a b.flv"), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, "DELETE", "/api/v1/tools/flv2mp4/files?path="+url.QueryEscape("/a b.flv"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, "DELETE", "/api/v1/tools/flv2mp4/files", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter(t, nil)

	get := func(path, authorization string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.SetCredentials(false, "")
		assert.Equal(t, http.StatusOK, get("/api/v1/tools", ""))
	})

	t.Run("Auth enabled", func(t *testing.T) {
		cfg.SetCredentials(true, "secret")
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", ""))
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Bearer wrong-key"))
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Basic secret"))
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Bearer "))
		assert.Equal(t, http.StatusOK, get("/api/v1/tools", "Bearer secret"))
		assert.Equal(t, http.StatusOK, get("/api/v1/tools", "bearer secret"))
	})

	t.Run("Reloaded key replaces the old one", func(t *testing.T) {
		cfg.SetCredentials(true, "secret")
		require.Equal(t, http.StatusOK, get("/api/v1/tools", "Bearer secret"))

		cfg.SetCredentials(true, "rotated")
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Bearer secret"))
		assert.Equal(t, http.StatusOK, get("/api/v1/tools", "Bearer rotated"))
	})

	t.Run("Empty key admits nobody", func(t *testing.T) {
		cfg.SetCredentials(true, "")
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Bearer "))
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/tools", "Bearer x"))
	})

	t.Run("Health stays open", func(t *testing.T) {
		cfg.SetCredentials(true, "secret")
		assert.Equal(t, http.StatusOK, get("/health", ""))
	})
}
