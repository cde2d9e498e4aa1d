// Package protocol defines the JSON message protocol spoken between the
// hub and endpoint agents. Every frame is a single JSON object carrying a
// "type" tag that selects the payload shape.
package protocol

import "time"

// MessageType is the tag of a protocol frame.
type MessageType string

// Tags received from endpoints.
const (
	TypeRegister         MessageType = "REGISTER"
	TypeDownloadAck      MessageType = "DOWNLOAD_ACK"
	TypeFileChunk        MessageType = "FILE_CHUNK"
	TypeDownloadComplete MessageType = "DOWNLOAD_COMPLETE"
)

// Tags sent to endpoints.
const (
	TypeRegisterAck     MessageType = "REGISTER_ACK"
	TypeDownloadRequest MessageType = "DOWNLOAD_REQUEST"
	TypeRetryChunk      MessageType = "RETRY_CHUNK"
	TypeCancelDownload  MessageType = "CANCEL_DOWNLOAD"
)

// Tags valid in both directions.
const (
	TypePing  MessageType = "PING"
	TypePong  MessageType = "PONG"
	TypeError MessageType = "ERROR"
)

// ChunkSize is the fixed chunk size in bytes (1 MiB). The last chunk of a
// file may be shorter.
const ChunkSize = 1 << 20

// Error codes shared by ERROR frames and the HTTP control plane.
const (
	CodeClientNotFound      = "CLIENT_NOT_FOUND"
	CodeClientNotConnected  = "CLIENT_NOT_CONNECTED"
	CodeFileNotFound        = "FILE_NOT_FOUND"
	CodeDownloadInProgress  = "DOWNLOAD_IN_PROGRESS"
	CodeChunkChecksumFailed = "CHUNK_CHECKSUM_FAILED"
	CodeChunkTransferFailed = "CHUNK_TRANSFER_FAILED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// Reasons attached to RETRY_CHUNK frames and the per-chunk failure ledger.
const (
	ReasonChecksumFailed    = "CHECKSUM_FAILED"
	ReasonArrivalTimeout    = "ARRIVAL_TIMEOUT"
	ReasonMissingAtComplete = "MISSING_AT_COMPLETE"
	ReasonWriteError        = "WRITE_ERROR"
)

// ClientMetadata is optional self-description an endpoint supplies at
// registration.
type ClientMetadata struct {
	Version  string `json:"version,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ErrorInfo is the error object embedded in ACK and ERROR payloads.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Register is sent by an endpoint as its first message on a connection.
type Register struct {
	Type     MessageType     `json:"type"`
	ClientID string          `json:"clientId"`
	Metadata *ClientMetadata `json:"metadata,omitempty"`
}

// RegisterAck answers a REGISTER.
type RegisterAck struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
}

// DownloadRequest asks an endpoint to start streaming a file.
type DownloadRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	ClientID  string      `json:"clientId"`
	FilePath  string      `json:"filePath"`
}

// DownloadAck is the endpoint's response to a DOWNLOAD_REQUEST. On success
// it declares the file size, chunk count, and whole-file checksum.
type DownloadAck struct {
	Type         MessageType `json:"type"`
	RequestID    string      `json:"requestId"`
	Success      bool        `json:"success"`
	FileSize     int64       `json:"fileSize,omitempty"`
	TotalChunks  int         `json:"totalChunks,omitempty"`
	FileChecksum string      `json:"fileChecksum,omitempty"`
	Error        *ErrorInfo  `json:"error,omitempty"`
}

// FileChunk carries one chunk of file data, base64-encoded, with its own
// SHA-256 checksum over the decoded bytes.
type FileChunk struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"requestId"`
	ChunkIndex  int         `json:"chunkIndex"`
	TotalChunks int         `json:"totalChunks"`
	Data        string      `json:"data"`
	Checksum    string      `json:"checksum"`
	Size        int         `json:"size"`
}

// RetryChunk asks the endpoint to resend one chunk. Attempt is the upcoming
// attempt number, 1-based.
type RetryChunk struct {
	Type       MessageType `json:"type"`
	RequestID  string      `json:"requestId"`
	ChunkIndex int         `json:"chunkIndex"`
	Attempt    int         `json:"attempt"`
	Reason     string      `json:"reason"`
	Timestamp  time.Time   `json:"timestamp"`
}

// DownloadComplete signals the endpoint has sent every chunk.
type DownloadComplete struct {
	Type         MessageType `json:"type"`
	RequestID    string      `json:"requestId"`
	Success      bool        `json:"success"`
	TotalChunks  int         `json:"totalChunks"`
	FileChecksum string      `json:"fileChecksum"`
	Message      string      `json:"message"`
}

// CancelDownload tells the endpoint to stop streaming a transfer.
type CancelDownload struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	Reason    string      `json:"reason"`
}

// Heartbeat is a PING or PONG frame.
type Heartbeat struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage reports a protocol-level error to the peer.
type ErrorMessage struct {
	Type    MessageType    `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewRegisterAck builds a REGISTER_ACK frame.
func NewRegisterAck(success bool, message string) *RegisterAck {
	return &RegisterAck{Type: TypeRegisterAck, Success: success, Message: message}
}

// NewDownloadRequest builds a DOWNLOAD_REQUEST frame.
func NewDownloadRequest(requestID, clientID, filePath string) *DownloadRequest {
	return &DownloadRequest{
		Type:      TypeDownloadRequest,
		RequestID: requestID,
		ClientID:  clientID,
		FilePath:  filePath,
	}
}

// NewRetryChunk builds a RETRY_CHUNK frame stamped with the current time.
func NewRetryChunk(requestID string, chunkIndex, attempt int, reason string) *RetryChunk {
	return &RetryChunk{
		Type:       TypeRetryChunk,
		RequestID:  requestID,
		ChunkIndex: chunkIndex,
		Attempt:    attempt,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
}

// NewCancelDownload builds a CANCEL_DOWNLOAD frame.
func NewCancelDownload(requestID, reason string) *CancelDownload {
	return &CancelDownload{Type: TypeCancelDownload, RequestID: requestID, Reason: reason}
}

// NewPing builds a PING frame stamped with the current time.
func NewPing() *Heartbeat {
	return &Heartbeat{Type: TypePing, Timestamp: time.Now().UTC()}
}

// NewPong builds a PONG frame stamped with the current time.
func NewPong() *Heartbeat {
	return &Heartbeat{Type: TypePong, Timestamp: time.Now().UTC()}
}

// NewError builds an ERROR frame.
func NewError(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// TotalChunksFor returns the chunk count for a file of the given size,
// ⌈size / ChunkSize⌉. A zero-byte file still occupies one chunk.
func TotalChunksFor(fileSize int64) int {
	if fileSize <= 0 {
		return 1
	}
	return int((fileSize + ChunkSize - 1) / ChunkSize)
}
