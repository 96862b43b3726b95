// Package textextract pulls plain text out of uploaded files so the raw
// content can be stored alongside the document row.
package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

// FromUpload extracts text from an uploaded file based on its extension.
// Returns the extracted content and the normalized file type.
func FromUpload(fileName string, data []byte) (string, string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))

	switch ext {
	case "pdf":
		content, err := fromPDF(data)
		if err != nil {
			return "", "", fmt.Errorf("extract pdf text: %w", err)
		}
		return content, "pdf", nil
	case "txt", "md", "markdown", "html", "json", "csv":
		return string(data), ext, nil
	default:
		return "", "", fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
}

func fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Keep what we have; a single broken page should not sink
			// the whole document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
