package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLib(t *testing.T, content string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sinkguard-request-processor.so")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	sum := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(sum[:])
}

func TestVerifyFileWithConfiguredDigest(t *testing.T) {
	path, digest := writeLib(t, "engine")

	res, err := VerifyFile(path, strings.ToUpper(digest))
	require.NoError(t, err)
	assert.True(t, res.Verified())
	assert.Equal(t, "config", res.Source)

	_, err = VerifyFile(path, strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, ErrMismatch))

	_, err = VerifyFile(path, "not-a-digest")
	assert.Error(t, err)
}

func TestVerifyFileBuildDigestAndChecksumFile(t *testing.T) {
	path, digest := writeLib(t, "engine v2")

	ExpectedEngineHash = digest
	res, err := VerifyFile(path, "")
	ExpectedEngineHash = ""
	require.NoError(t, err)
	assert.Equal(t, "build", res.Source)

	require.NoError(t, os.WriteFile(path+".sha256", []byte(digest+"  sinkguard-request-processor.so\n"), 0o644))
	res, err = VerifyFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "checksum-file", res.Source)
	assert.True(t, res.Verified())
}

func TestVerifyFileDevBuildUnchecked(t *testing.T) {
	path, _ := writeLib(t, "engine")
	res, err := VerifyFile(path, "")
	require.NoError(t, err)
	assert.False(t, res.Verified())
	assert.Empty(t, res.Source)
}

func TestVerifyFileMissing(t *testing.T) {
	_, err := VerifyFile(filepath.Join(t.TempDir(), "missing.so"), strings.Repeat("a", 64))
	assert.Error(t, err)
}
