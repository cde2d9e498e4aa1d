package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/tracker"
	"github.com/marmos91/filepull/pkg/transfer"
)

func TestMain(m *testing.M) {
	logger.SetLevel("error")
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	manager, err := transfer.New(transfer.DefaultConfig(t.TempDir()), tracker.NewRealClock(), nil)
	require.NoError(t, err)

	h := hub.New(hub.DefaultConfig(), manager, nil)
	manager.SetNotifier(h)
	t.Cleanup(h.Shutdown)

	return NewRouter(h, manager, "test")
}

func TestRouterRoutes(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"versioned health", http.MethodGet, "/api/v1/health", http.StatusOK},
		{"bare health probe", http.MethodGet, "/health", http.StatusOK},
		{"clients list", http.MethodGet, "/api/v1/clients", http.StatusOK},
		{"downloads list", http.MethodGet, "/api/v1/downloads", http.StatusOK},
		{"unknown client", http.MethodGet, "/api/v1/clients/ghost", http.StatusNotFound},
		{"bad download id", http.MethodGet, "/api/v1/downloads/nope", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRouterHealthBody(t *testing.T) {
	router := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
