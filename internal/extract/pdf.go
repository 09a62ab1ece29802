package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

func pdfText(buf []byte) (text string, err error) {
	// The parser panics on some truncated or hostile files.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Format: "PDF", Err: fmt.Errorf("malformed document: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", &ExtractionError{Format: "PDF", Err: err}
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", &ExtractionError{Format: "PDF", Err: err}
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", &ExtractionError{Format: "PDF", Err: err}
	}
	return sb.String(), nil
}
