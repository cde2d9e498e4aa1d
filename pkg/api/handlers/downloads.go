package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/transfer"
)

// DefaultListLimit caps GET /downloads pages when the caller does not ask
// for a limit.
const DefaultListLimit = 50

// DownloadsHandler handles the /downloads endpoints.
type DownloadsHandler struct {
	directory Directory
	manager   *transfer.Manager
}

// NewDownloadsHandler creates a downloads handler.
func NewDownloadsHandler(directory Directory, manager *transfer.Manager) *DownloadsHandler {
	return &DownloadsHandler{directory: directory, manager: manager}
}

// CreateDownloadRequest is the body of POST /downloads.
type CreateDownloadRequest struct {
	ClientID string `json:"clientId"`
	FilePath string `json:"filePath"`
}

// CreateDownloadResponse is the 202 body of POST /downloads.
type CreateDownloadResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
	FilePath  string `json:"filePath"`
	Status    string `json:"status"`
}

// DownloadListResponse is the body of GET /downloads.
type DownloadListResponse struct {
	Success   bool                 `json:"success"`
	Downloads []*transfer.Snapshot `json:"downloads"`
	Total     int                  `json:"total"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

// DownloadDetailResponse is the body of GET /downloads/{id}.
type DownloadDetailResponse struct {
	Success  bool               `json:"success"`
	Download *transfer.Snapshot `json:"download"`
}

// CancelDownloadResponse is the 200 body of DELETE /downloads/{id}.
type CancelDownloadResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// Create handles POST /downloads. It accepts the request, sends the
// DOWNLOAD_REQUEST to the endpoint, and answers 202 before any chunk
// arrives.
func (h *DownloadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDownloadRequest
	if !decodeJSONBody(w, r, protocol.CodeInvalidRequest, &req) {
		return
	}
	if req.ClientID == "" {
		BadRequest(w, protocol.CodeInvalidRequest, "clientId is required")
		return
	}
	if req.FilePath == "" {
		BadRequest(w, protocol.CodeInvalidRequest, "filePath is required")
		return
	}

	if !h.directory.IsConnected(req.ClientID) {
		NotFound(w, protocol.CodeClientNotConnected, "client not connected: "+req.ClientID)
		return
	}

	snap, err := h.manager.Create(req.ClientID, req.FilePath, "")
	if err != nil {
		if errors.Is(err, transfer.ErrActiveTransfer) {
			Conflict(w, protocol.CodeDownloadInProgress, err.Error())
			return
		}
		InternalServerError(w, protocol.CodeInternalServerError, err.Error())
		return
	}

	if err := h.directory.SendDownloadRequest(req.ClientID, snap.RequestID, req.FilePath); err != nil {
		// The endpoint vanished between the connectivity check and the
		// send. Fail the record so it does not hold the per-client slot.
		h.manager.Fail(snap.RequestID, protocol.CodeClientNotConnected,
			"client disconnected before download request was sent", nil)
		NotFound(w, protocol.CodeClientNotConnected, "client not connected: "+req.ClientID)
		return
	}

	logger.Info("download requested",
		logger.KeyTransferID, snap.RequestID,
		logger.KeyClientID, req.ClientID,
		logger.KeyFilePath, req.FilePath)

	WriteJSON(w, http.StatusAccepted, CreateDownloadResponse{
		Success:   true,
		RequestID: snap.RequestID,
		ClientID:  req.ClientID,
		FilePath:  req.FilePath,
		Status:    string(transfer.StatusPending),
	})
}

// List handles GET /downloads with ?status, ?clientId, ?limit, ?offset.
func (h *DownloadsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := transfer.Filter{
		ClientID: q.Get("clientId"),
		Limit:    DefaultListLimit,
	}

	if status := q.Get("status"); status != "" {
		s := transfer.Status(status)
		if !s.Valid() {
			BadRequest(w, protocol.CodeInvalidRequest, "unknown status: "+status)
			return
		}
		f.Status = s
	}
	if limit, ok := queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	} else if limit > 0 {
		f.Limit = limit
	}
	if offset, ok := queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	} else {
		f.Offset = offset
	}

	downloads, total := h.manager.List(f)

	WriteJSON(w, http.StatusOK, DownloadListResponse{
		Success:   true,
		Downloads: downloads,
		Total:     total,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
}

// Get handles GET /downloads/{id}.
func (h *DownloadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	snap, err := h.manager.Get(requestID)
	if err != nil {
		// The error-code vocabulary is shared with the wire protocol and has
		// no download-not-found entry; unknown ids answer 404 with
		// INVALID_REQUEST.
		NotFound(w, protocol.CodeInvalidRequest, "download not found: "+requestID)
		return
	}

	WriteJSON(w, http.StatusOK, DownloadDetailResponse{Success: true, Download: snap})
}

// Cancel handles DELETE /downloads/{id}. The transfer transitions to
// cancelled before the endpoint is notified; notification is best-effort.
func (h *DownloadsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	snap, err := h.manager.Get(requestID)
	if err != nil {
		NotFound(w, protocol.CodeInvalidRequest, "download not found: "+requestID)
		return
	}

	if err := h.manager.Cancel(requestID, "cancelled by operator"); err != nil {
		switch {
		case errors.Is(err, transfer.ErrNotFound):
			NotFound(w, protocol.CodeInvalidRequest, "download not found: "+requestID)
		case errors.Is(err, transfer.ErrTerminal):
			Conflict(w, protocol.CodeInvalidRequest,
				"download already in status "+string(snap.Status))
		default:
			InternalServerError(w, protocol.CodeInternalServerError, err.Error())
		}
		return
	}

	h.directory.SendCancelDownload(snap.ClientID, requestID, "cancelled by operator")

	logger.Info("download cancelled",
		logger.KeyTransferID, requestID,
		logger.KeyClientID, snap.ClientID)

	WriteJSON(w, http.StatusOK, CancelDownloadResponse{
		Success:   true,
		RequestID: requestID,
		Status:    string(transfer.StatusCancelled),
	})
}

// requestIDParam extracts and validates the {id} path parameter.
func requestIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !protocol.IsValidRequestID(id) {
		BadRequest(w, protocol.CodeInvalidRequest, "requestId must be a v4 UUID")
		return "", false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		BadRequest(w, protocol.CodeInvalidRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
