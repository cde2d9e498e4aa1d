package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/marmos91/filepull/pkg/checksum"
)

// ErrInvalidMessage is the sentinel wrapped by every parse/validation
// failure. Callers answer it with an ERROR{INVALID_REQUEST} frame.
var ErrInvalidMessage = errors.New("invalid message")

// envelope is the minimal shape used to peek at the tag before decoding
// the full payload.
type envelope struct {
	Type MessageType `json:"type"`
}

// Parse decodes one inbound frame and validates its required fields.
// It returns one of the typed payload structs (*Register, *DownloadAck,
// *FileChunk, *DownloadComplete, *Heartbeat, *ErrorMessage).
//
// Only tags an endpoint may send are accepted here; hub-originated tags
// arriving inbound are rejected like any unknown tag.
func Parse(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrInvalidMessage)
	}

	switch env.Type {
	case TypeRegister:
		var msg Register
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		if msg.ClientID == "" {
			return nil, requiredErr(env.Type, "clientId")
		}
		return &msg, nil

	case TypeDownloadAck:
		var msg DownloadAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		if err := validUUID(env.Type, msg.RequestID); err != nil {
			return nil, err
		}
		if msg.Success {
			if msg.FileSize < 0 {
				return nil, fmt.Errorf("%w: %s: negative fileSize", ErrInvalidMessage, env.Type)
			}
			if msg.TotalChunks < 1 {
				return nil, fmt.Errorf("%w: %s: totalChunks must be >= 1", ErrInvalidMessage, env.Type)
			}
			if !checksum.IsValidHex(msg.FileChecksum) {
				return nil, fmt.Errorf("%w: %s: malformed fileChecksum", ErrInvalidMessage, env.Type)
			}
		}
		return &msg, nil

	case TypeFileChunk:
		var msg FileChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		if err := validUUID(env.Type, msg.RequestID); err != nil {
			return nil, err
		}
		if msg.ChunkIndex < 0 {
			return nil, fmt.Errorf("%w: %s: negative chunkIndex", ErrInvalidMessage, env.Type)
		}
		if msg.TotalChunks < 1 {
			return nil, fmt.Errorf("%w: %s: totalChunks must be >= 1", ErrInvalidMessage, env.Type)
		}
		if msg.ChunkIndex >= msg.TotalChunks {
			return nil, fmt.Errorf("%w: %s: chunkIndex %d out of range [0,%d)",
				ErrInvalidMessage, env.Type, msg.ChunkIndex, msg.TotalChunks)
		}
		if msg.Data == "" {
			return nil, requiredErr(env.Type, "data")
		}
		if !checksum.IsValidHex(msg.Checksum) {
			return nil, fmt.Errorf("%w: %s: malformed checksum", ErrInvalidMessage, env.Type)
		}
		if msg.Size < 0 {
			return nil, fmt.Errorf("%w: %s: negative size", ErrInvalidMessage, env.Type)
		}
		return &msg, nil

	case TypeDownloadComplete:
		var msg DownloadComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		if err := validUUID(env.Type, msg.RequestID); err != nil {
			return nil, err
		}
		return &msg, nil

	case TypePing, TypePong:
		var msg Heartbeat
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		msg.Type = env.Type
		return &msg, nil

	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, decodeErr(env.Type, err)
		}
		if msg.Code == "" {
			return nil, requiredErr(env.Type, "code")
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, env.Type)
	}
}

// Encode marshals an outbound message to a single JSON frame.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// IsValidRequestID reports whether id is a well-formed version-4 UUID.
func IsValidRequestID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 4
}

func validUUID(tag MessageType, id string) error {
	if id == "" {
		return requiredErr(tag, "requestId")
	}
	if !IsValidRequestID(id) {
		return fmt.Errorf("%w: %s: requestId %q is not a v4 UUID", ErrInvalidMessage, tag, id)
	}
	return nil
}

func decodeErr(tag MessageType, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, tag, err)
}

func requiredErr(tag MessageType, field string) error {
	return fmt.Errorf("%w: %s: missing required field %s", ErrInvalidMessage, tag, field)
}
