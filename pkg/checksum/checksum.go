// Package checksum provides SHA-256 hashing for chunk and whole-file
// integrity verification. All checksums on the wire are lowercase hex,
// 64 characters.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HexLength is the length of an encoded SHA-256 checksum.
const HexLength = 64

// Hash computes the SHA-256 of data and returns it as lowercase hex.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through SHA-256 and returns the
// lowercase hex digest. The file is read in 64KiB blocks so arbitrarily
// large files hash in constant memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the SHA-256 of data matches expected.
// The comparison is case-insensitive on the expected value; peers are not
// required to lowercase their digests. Failures here are protocol-level,
// not adversarial, so a constant-time compare is not needed.
func Verify(data []byte, expected string) bool {
	return Hash(data) == strings.ToLower(expected)
}

// IsValidHex reports whether s looks like an encoded SHA-256 digest.
func IsValidHex(s string) bool {
	if len(s) != HexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
