package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// scratchFile is the hub-local file a transfer assembles into. Chunks are
// written positionally at chunkIndex × chunk size, so the file is sparse
// until every chunk has landed.
//
// The handle opens lazily on the first write and closes exactly once; the
// owning transfer's mutex guards all calls.
type scratchFile struct {
	path   string
	file   *os.File
	closed bool
}

func newScratchFile(path string) *scratchFile {
	return &scratchFile{path: path}
}

// WriteAt writes p at the given offset, opening the file on first use.
func (s *scratchFile) WriteAt(p []byte, off int64) error {
	if s.closed {
		return fmt.Errorf("scratch file %s: already closed", s.path)
	}
	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open scratch file: %w", err)
		}
		s.file = f
	}
	if _, err := s.file.WriteAt(p, off); err != nil {
		return fmt.Errorf("write chunk at offset %d: %w", off, err)
	}
	return nil
}

// Close releases the handle. Idempotent; a scratch that was never written
// closes without error.
func (s *scratchFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Remove closes the handle and deletes the file. A scratch that was never
// written has nothing to delete.
func (s *scratchFile) Remove() error {
	_ = s.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// finalName builds the output filename for a completed transfer:
// <clientID>-<epoch_ms><ext>, with the extension inferred from the remote
// path or ".bin" when it has none.
func finalName(clientID, remotePath string, now time.Time) string {
	ext := filepath.Ext(remotePath)
	if ext == "" || strings.ContainsAny(ext, "/\\") {
		ext = ".bin"
	}
	return fmt.Sprintf("%s-%d%s", clientID, now.UnixMilli(), ext)
}
