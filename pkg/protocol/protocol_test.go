package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filepull/pkg/checksum"
)

func chunkFrame(t *testing.T, mutate func(m map[string]any)) []byte {
	t.Helper()
	payload := []byte("chunk bytes")
	m := map[string]any{
		"type":        "FILE_CHUNK",
		"requestId":   uuid.NewString(),
		"chunkIndex":  0,
		"totalChunks": 3,
		"data":        base64.StdEncoding.EncodeToString(payload),
		"checksum":    checksum.Hash(payload),
		"size":        len(payload),
	}
	if mutate != nil {
		mutate(m)
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestParseRegister(t *testing.T) {
	frame := []byte(`{"type":"REGISTER","clientId":"edge-001","metadata":{"version":"1.2.0","platform":"linux"}}`)
	msg, err := Parse(frame)
	require.NoError(t, err)

	reg, ok := msg.(*Register)
	require.True(t, ok)
	assert.Equal(t, "edge-001", reg.ClientID)
	require.NotNil(t, reg.Metadata)
	assert.Equal(t, "1.2.0", reg.Metadata.Version)
}

func TestParseRegisterMissingClientID(t *testing.T) {
	_, err := Parse([]byte(`{"type":"REGISTER"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestParseFileChunk(t *testing.T) {
	msg, err := Parse(chunkFrame(t, nil))
	require.NoError(t, err)

	chunk, ok := msg.(*FileChunk)
	require.True(t, ok)
	assert.Equal(t, 0, chunk.ChunkIndex)
	assert.Equal(t, 3, chunk.TotalChunks)
}

func TestParseFileChunkValidation(t *testing.T) {
	cases := map[string]func(m map[string]any){
		"negative index":     func(m map[string]any) { m["chunkIndex"] = -1 },
		"index out of range": func(m map[string]any) { m["chunkIndex"] = 3 },
		"zero totalChunks":   func(m map[string]any) { m["totalChunks"] = 0 },
		"missing data":       func(m map[string]any) { m["data"] = "" },
		"bad checksum":       func(m map[string]any) { m["checksum"] = "abc" },
		"negative size":      func(m map[string]any) { m["size"] = -5 },
		"bad uuid":           func(m map[string]any) { m["requestId"] = "not-a-uuid" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(chunkFrame(t, mutate))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestParseDownloadAck(t *testing.T) {
	id := uuid.NewString()
	sum := checksum.Hash([]byte("whole file"))
	frame := fmt.Appendf(nil,
		`{"type":"DOWNLOAD_ACK","requestId":%q,"success":true,"fileSize":13,"totalChunks":1,"fileChecksum":%q}`,
		id, sum)

	msg, err := Parse(frame)
	require.NoError(t, err)

	ack, ok := msg.(*DownloadAck)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, int64(13), ack.FileSize)
	assert.Equal(t, 1, ack.TotalChunks)
}

func TestParseDownloadAckFailureSkipsDeclaredFields(t *testing.T) {
	// A failed ACK does not declare size/chunks/checksum; it must still parse.
	id := uuid.NewString()
	frame := fmt.Appendf(nil,
		`{"type":"DOWNLOAD_ACK","requestId":%q,"success":false,"error":{"code":"FILE_NOT_FOUND","message":"no such file"}}`,
		id)

	msg, err := Parse(frame)
	require.NoError(t, err)

	ack := msg.(*DownloadAck)
	assert.False(t, ack.Success)
	require.NotNil(t, ack.Error)
	assert.Equal(t, CodeFileNotFound, ack.Error.Code)
}

func TestParseDownloadAckSuccessRequiresDeclaration(t *testing.T) {
	id := uuid.NewString()
	frame := fmt.Appendf(nil, `{"type":"DOWNLOAD_ACK","requestId":%q,"success":true}`, id)
	_, err := Parse(frame)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestParseHeartbeat(t *testing.T) {
	for _, tag := range []string{"PING", "PONG"} {
		frame := fmt.Appendf(nil, `{"type":%q,"timestamp":%q}`, tag, time.Now().UTC().Format(time.RFC3339))
		msg, err := Parse(frame)
		require.NoError(t, err)

		hb, ok := msg.(*Heartbeat)
		require.True(t, ok)
		assert.Equal(t, MessageType(tag), hb.Type)
	}
}

func TestParseRejectsUnknownAndOutbound(t *testing.T) {
	for _, frame := range []string{
		`{"type":"NOPE"}`,
		`{"type":"DOWNLOAD_REQUEST","requestId":"x","clientId":"a","filePath":"/f"}`,
		`{"type":"RETRY_CHUNK"}`,
		`{}`,
		`not json`,
	} {
		_, err := Parse([]byte(frame))
		assert.ErrorIs(t, err, ErrInvalidMessage, "frame %s", frame)
	}
}

func TestParseError(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"ERROR","code":"INVALID_REQUEST","message":"bad frame"}`))
	require.NoError(t, err)

	em := msg.(*ErrorMessage)
	assert.Equal(t, CodeInvalidRequest, em.Code)

	_, err = Parse([]byte(`{"type":"ERROR","message":"codeless"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestEncodeRoundTrip(t *testing.T) {
	id := uuid.NewString()
	out := NewRetryChunk(id, 2, 1, ReasonChecksumFailed)

	data, err := Encode(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "RETRY_CHUNK", decoded["type"])
	assert.Equal(t, id, decoded["requestId"])
	assert.Equal(t, float64(2), decoded["chunkIndex"])
	assert.Equal(t, float64(1), decoded["attempt"])
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, IsValidRequestID(uuid.NewString()))
	assert.False(t, IsValidRequestID("not-a-uuid"))
	// v1 UUIDs are rejected; the protocol mandates v4.
	v1 := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	assert.False(t, IsValidRequestID(v1))
}

func TestTotalChunksFor(t *testing.T) {
	assert.Equal(t, 1, TotalChunksFor(0))
	assert.Equal(t, 1, TotalChunksFor(13))
	assert.Equal(t, 1, TotalChunksFor(ChunkSize))
	assert.Equal(t, 2, TotalChunksFor(ChunkSize+1))
	assert.Equal(t, 3, TotalChunksFor(3*ChunkSize))
}

func TestParseErrsWrapSentinel(t *testing.T) {
	_, err := Parse([]byte(`{"type":"FILE_CHUNK","requestId":"bad"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}
