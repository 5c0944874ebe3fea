// Package integrity verifies the decision engine library before it is
// loaded into the host process. The expected digest comes from the
// build (ldflags), from configuration, or from a checksum file next to
// the library.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ExpectedEngineHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/sinkguard/internal/integrity.ExpectedEngineHash=<sha256hex>"
var ExpectedEngineHash string

// ErrMismatch is returned when a file does not match its expected digest.
var ErrMismatch = errors.New("integrity: checksum mismatch")

// Result describes one verification.
type Result struct {
	Path     string
	Expected string
	Actual   string
	// Source is where the expected digest came from: "build", "config",
	// "checksum-file", or "" when nothing was checked.
	Source string
}

// Verified reports whether a digest was compared and matched.
func (r Result) Verified() bool {
	return r.Source != "" && strings.EqualFold(r.Expected, r.Actual)
}

// VerifyFile checks path against expected, falling back to
// ExpectedEngineHash and then to "<path>.sha256". When no digest is
// available the file is accepted unchecked (dev builds).
func VerifyFile(path, expected string) (Result, error) {
	res := Result{Path: path}
	switch {
	case expected != "":
		res.Expected, res.Source = expected, "config"
	case ExpectedEngineHash != "":
		res.Expected, res.Source = ExpectedEngineHash, "build"
	default:
		if h := loadChecksumFile(path + ".sha256"); h != "" {
			res.Expected, res.Source = h, "checksum-file"
		}
	}
	if res.Source == "" {
		return res, nil
	}
	if !isDigest(res.Expected) {
		return res, fmt.Errorf("integrity: invalid expected digest from %s", res.Source)
	}

	actual, err := HashFile(path)
	if err != nil {
		return res, fmt.Errorf("integrity: cannot hash %s: %w", path, err)
	}
	res.Actual = actual
	if !strings.EqualFold(actual, res.Expected) {
		return res, fmt.Errorf("%w: %s (expected %s, got %s)", ErrMismatch, path, res.Expected, actual)
	}
	return res, nil
}

// HashFile returns the SHA-256 hex digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadChecksumFile reads a digest in sha256sum format ("<hex>  name")
// or bare hex. Returns "" if the file is missing or not a digest.
func loadChecksumFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 || !isDigest(fields[0]) {
		return ""
	}
	return fields[0]
}

func isDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
