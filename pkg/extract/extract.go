// Package extract pulls plain text out of uploaded or local files so the
// pipeline only ever sees text. Plain text and markdown pass through
// unchanged; PDFs go through the pdf library.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Supported reports whether the filename's extension can be extracted.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".pdf":
		return true
	}
	return false
}

// FromFile extracts the text content of a local file.
func FromFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		return fromPDF(path)
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// FromUpload extracts text from an uploaded stream. The filename decides
// the format. PDFs are spooled to a temp file because the pdf library
// needs random access.
func FromUpload(r io.Reader, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read upload %s: %w", filename, err)
		}
		return string(data), nil
	case ".pdf":
		tmp, err := os.CreateTemp("", "upload-*.pdf")
		if err != nil {
			return "", fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if _, err := io.Copy(tmp, r); err != nil {
			return "", fmt.Errorf("failed to spool upload %s: %w", filename, err)
		}
		return fromPDF(tmp.Name())
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}

// Title derives a document title from a file name.
func Title(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func fromPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	b, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text from %s: %w", path, err)
	}
	if _, err := io.Copy(&buf, b); err != nil {
		return "", fmt.Errorf("failed to read pdf text from %s: %w", path, err)
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text extracted from %s", path)
	}
	return text, nil
}
