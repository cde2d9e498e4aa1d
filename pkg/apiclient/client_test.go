package apiclient

import (
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/api"
	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/tracker"
	"github.com/marmos91/filepull/pkg/transfer"
)

func TestMain(m *testing.M) {
	logger.SetLevel("error")
	os.Exit(m.Run())
}

// newTestClient spins up a real router over a real hub and manager so the
// client is exercised against the actual wire shapes.
func newTestClient(t *testing.T) (*Client, *transfer.Manager) {
	t.Helper()

	manager, err := transfer.New(transfer.DefaultConfig(t.TempDir()), tracker.NewRealClock(), nil)
	require.NoError(t, err)

	h := hub.New(hub.DefaultConfig(), manager, nil)
	manager.SetNotifier(h)
	t.Cleanup(h.Shutdown)

	srv := httptest.NewServer(api.NewRouter(h, manager, "test"))
	t.Cleanup(srv.Close)

	return New(srv.URL), manager
}

func TestGetHealth(t *testing.T) {
	client, _ := newTestClient(t)

	h, err := client.GetHealth()
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, 0, h.ConnectedClients)
}

func TestListClientsEmpty(t *testing.T) {
	client, _ := newTestClient(t)

	clients, err := client.ListClients("")
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestGetClientNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetClient("ghost")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "CLIENT_NOT_FOUND", apiErr.Code)
}

func TestCreateDownloadNotConnected(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.CreateDownload("ghost", "/tmp/report.pdf")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotConnected())
}

func TestListAndGetDownloads(t *testing.T) {
	client, manager := newTestClient(t)

	snap, err := manager.Create("edge-001", "/var/log/syslog", "")
	require.NoError(t, err)

	downloads, total, err := client.ListDownloads(DownloadListOptions{ClientID: "edge-001"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, downloads, 1)
	assert.Equal(t, snap.RequestID, downloads[0].RequestID)

	got, err := client.GetDownload(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, got.Status)
	assert.Equal(t, "/var/log/syslog", got.FilePath)
}

func TestCancelDownload(t *testing.T) {
	client, manager := newTestClient(t)

	snap, err := manager.Create("edge-001", "/var/log/syslog", "")
	require.NoError(t, err)

	require.NoError(t, client.CancelDownload(snap.RequestID))

	got, err := client.GetDownload(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusCancelled, got.Status)

	// Cancelling a terminal download conflicts.
	err = client.CancelDownload(snap.RequestID)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsConflict())
}

func TestBadRequestIDSurfacesAPIError(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetDownload("not-a-uuid")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", apiErr.Code)
}
