package logger

// Canonical field keys used across the hub. Handlers and log consumers key
// on these names, so new code should reuse them instead of inventing
// variants (transferId, transfer-id, ...).
const (
	// KeyTransferID is the UUIDv4 of a download request.
	KeyTransferID = "transfer_id"

	// KeyClientID is the caller-chosen endpoint identifier.
	KeyClientID = "client_id"

	// KeyConnID is the internal id of a not-yet-registered connection.
	KeyConnID = "conn_id"

	// KeyRemoteAddr is the remote network address of an endpoint.
	KeyRemoteAddr = "remote_addr"

	// KeyMessageType is the protocol message tag (REGISTER, FILE_CHUNK, ...).
	KeyMessageType = "message_type"

	// KeyChunkIndex is the zero-based index of a file chunk.
	KeyChunkIndex = "chunk_index"

	// KeyAttempt is the retry attempt number for a chunk (1-based).
	KeyAttempt = "attempt"

	// KeyReason is a failure or retry reason.
	KeyReason = "reason"

	// KeyStatus is a transfer status (pending, in_progress, ...).
	KeyStatus = "status"

	// KeyFilePath is the remote path requested from an endpoint.
	KeyFilePath = "file_path"

	// KeyError is an error message.
	KeyError = "error"

	// KeyDurationMs is an operation duration in milliseconds.
	KeyDurationMs = "duration_ms"
)
