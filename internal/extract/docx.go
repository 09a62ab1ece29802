package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// maxDocxBodyBytes bounds decompression of the document part.
const maxDocxBodyBytes = 64 << 20

var errNoDocxBody = errors.New("word/document.xml not found")

// docxText returns the raw text of a WordprocessingML package: the text runs
// of every paragraph, one paragraph per line. Formatting is dropped.
func docxText(buf []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return "", &ExtractionError{Format: "DOCX", Err: err}
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", &ExtractionError{Format: "DOCX", Err: errNoDocxBody}
	}

	rc, err := part.Open()
	if err != nil {
		return "", &ExtractionError{Format: "DOCX", Err: err}
	}
	defer rc.Close()

	text, err := wordprocessingText(io.LimitReader(rc, maxDocxBodyBytes))
	if err != nil {
		return "", &ExtractionError{Format: "DOCX", Err: err}
	}
	return text, nil
}

func wordprocessingText(r io.Reader) (string, error) {
	const ns = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		line   strings.Builder
		inText bool
	)
	flush := func() {
		sb.WriteString(line.String())
		sb.WriteByte('\n')
		line.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br", "cr":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if line.Len() > 0 {
		flush()
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
