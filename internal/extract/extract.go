// Package extract pulls plain text out of uploaded documents.
package extract

import (
	"fmt"
	"mime"
	"strings"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// UnsupportedFormatError is returned for a MIME type with no extractor.
type UnsupportedFormatError struct {
	MIMEType string
}

func (e *UnsupportedFormatError) Error() string {
	return "Unsupported file type: " + e.MIMEType
}

// ExtractionError wraps a failure reported by an extraction backend.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("Failed to extract %s text: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type extractor func([]byte) (string, error)

var extractors = map[string]extractor{
	MIMEPDF:  pdfText,
	MIMEDOCX: docxText,
}

// Text dispatches on mimeType and returns the document's plain text.
// MIME parameters are ignored. Failures are not retried.
func Text(buf []byte, mimeType string) (string, error) {
	mediaType := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	fn, ok := extractors[mediaType]
	if !ok {
		return "", &UnsupportedFormatError{MIMEType: mimeType}
	}
	return fn(buf)
}
