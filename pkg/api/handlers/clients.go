package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/transfer"
)

// ClientsHandler handles the /clients endpoints.
type ClientsHandler struct {
	directory Directory
	manager   *transfer.Manager
}

// NewClientsHandler creates a clients handler.
func NewClientsHandler(directory Directory, manager *transfer.Manager) *ClientsHandler {
	return &ClientsHandler{directory: directory, manager: manager}
}

// ClientListResponse is the body of GET /clients.
type ClientListResponse struct {
	Success bool                 `json:"success"`
	Clients []hub.ClientSnapshot `json:"clients"`
	Total   int                  `json:"total"`
}

// ClientDetail is one endpoint plus its transfer history.
type ClientDetail struct {
	hub.ClientSnapshot
	DownloadHistory []*transfer.Snapshot `json:"downloadHistory"`
}

// ClientDetailResponse is the body of GET /clients/{id}.
type ClientDetailResponse struct {
	Success bool         `json:"success"`
	Client  ClientDetail `json:"client"`
}

// List handles GET /clients. The only status the registry tracks is
// "connected", so ?status=connected is accepted and anything else yields an
// empty list.
func (h *ClientsHandler) List(w http.ResponseWriter, r *http.Request) {
	clients := h.directory.Clients()

	if status := r.URL.Query().Get("status"); status != "" && status != "connected" {
		clients = []hub.ClientSnapshot{}
	}

	WriteJSON(w, http.StatusOK, ClientListResponse{
		Success: true,
		Clients: clients,
		Total:   len(clients),
	})
}

// Get handles GET /clients/{id}. The download history is the set of known
// transfers for this endpoint, newest first.
func (h *ClientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	snap, ok := h.directory.Client(clientID)
	if !ok {
		NotFound(w, protocol.CodeClientNotFound, "client not found: "+clientID)
		return
	}

	history, _ := h.manager.List(transfer.Filter{ClientID: clientID})

	WriteJSON(w, http.StatusOK, ClientDetailResponse{
		Success: true,
		Client: ClientDetail{
			ClientSnapshot:  *snap,
			DownloadHistory: history,
		},
	})
}
