package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/transfer"
)

// Directory is the view of connected endpoints the handlers need.
// *hub.Hub satisfies it.
type Directory interface {
	Clients() []hub.ClientSnapshot
	Client(clientID string) (*hub.ClientSnapshot, bool)
	IsConnected(clientID string) bool
	ConnectedCount() int
	SendDownloadRequest(clientID, requestID, filePath string) error
	SendCancelDownload(clientID, requestID, reason string)
}

// HealthHandler handles GET /health.
type HealthHandler struct {
	directory Directory
	manager   *transfer.Manager
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a health handler. The version string is reported
// verbatim in the response.
func NewHealthHandler(directory Directory, manager *transfer.Manager, version string) *HealthHandler {
	return &HealthHandler{
		directory: directory,
		manager:   manager,
		version:   version,
		startedAt: time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ConnectedClients int    `json:"connectedClients"`
	ActiveDownloads  int    `json:"activeDownloads"`
	Version          string `json:"version"`
}

// Health handles GET /health. Always 200 while the process serves requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		Uptime:           time.Since(h.startedAt).Round(time.Second).String(),
		ConnectedClients: h.directory.ConnectedCount(),
		ActiveDownloads:  h.manager.ActiveCount(),
		Version:          h.version,
	})
}
