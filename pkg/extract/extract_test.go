package extract_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/minirag/pkg/extract"
)

func TestSupported(t *testing.T) {
	assert.True(t, extract.Supported("notes.txt"))
	assert.True(t, extract.Supported("README.md"))
	assert.True(t, extract.Supported("paper.PDF"))
	assert.False(t, extract.Supported("image.png"))
	assert.False(t, extract.Supported("noextension"))
}

func TestFromFilePlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("The sky is blue.\n"), 0o644))

	text, err := extract.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.\n", text)
}

func TestFromFileMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nBody text."), 0o644))

	text, err := extract.FromFile(path)
	require.NoError(t, err)
	assert.Contains(t, text, "Body text.")
}

func TestFromFileUnsupported(t *testing.T) {
	_, err := extract.FromFile("image.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestFromFileMissing(t *testing.T) {
	_, err := extract.FromFile(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestFromUploadPlainText(t *testing.T) {
	text, err := extract.FromUpload(strings.NewReader("uploaded content"), "upload.txt")
	require.NoError(t, err)
	assert.Equal(t, "uploaded content", text)
}

func TestFromUploadUnsupported(t *testing.T) {
	_, err := extract.FromUpload(strings.NewReader("x"), "binary.exe")
	assert.Error(t, err)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "paper", extract.Title("/tmp/uploads/paper.pdf"))
	assert.Equal(t, "notes", extract.Title("notes.txt"))
}
