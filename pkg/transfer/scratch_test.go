package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchPositionalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch")
	s := newScratchFile(path)

	// Out-of-order positional writes leave a gap-free file once every
	// region has been written.
	require.NoError(t, s.WriteAt([]byte("world"), 5))
	require.NoError(t, s.WriteAt([]byte("hello"), 0))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))

	// Closed scratch refuses further writes; Close stays idempotent.
	assert.Error(t, s.WriteAt([]byte("x"), 0))
	assert.NoError(t, s.Close())
}

func TestScratchNeverOpened(t *testing.T) {
	s := newScratchFile(filepath.Join(t.TempDir(), "scratch"))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Remove())
}

func TestScratchRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch")
	s := newScratchFile(path)
	require.NoError(t, s.WriteAt([]byte("data"), 0))
	require.NoError(t, s.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFinalName(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		name       string
		remotePath string
		want       string
	}{
		{"extension kept", "/data/report.txt", "edge-001-1700000000000.txt"},
		{"double extension keeps last", "/backups/dump.tar.gz", "edge-001-1700000000000.gz"},
		{"no extension falls back", "/var/log/syslog", "edge-001-1700000000000.bin"},
		{"trailing dot directory", "/srv/v1.2/binary", "edge-001-1700000000000.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, finalName("edge-001", tt.remotePath, now))
		})
	}
}
