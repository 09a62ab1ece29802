package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/n0madic/go-mmgateway/internal/types"
)

const (
	// maxBodyBytes limits JSON request bodies.
	maxBodyBytes = 10 * 1024 * 1024
	// maxUploadBytes limits multipart requests, file included.
	maxUploadBytes = 50 * 1024 * 1024
	// maxUploadMemory is how much of a multipart form is kept in memory
	// before spilling to temp files.
	maxUploadMemory = 32 * 1024 * 1024
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes body unchanged with the given content type.
func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, types.ErrorResponse{Error: message})
}

func readLimitedRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// errUploadTooLarge is returned by readUpload when the request exceeds maxUploadBytes.
var errUploadTooLarge = errors.New("Uploaded file is too large")

// readUpload parses a multipart form and returns the first file found under
// one of fields. A request that is not multipart, or has no such file,
// yields a nil file and no error.
func readUpload(w http.ResponseWriter, r *http.Request, fields ...string) (*types.UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, errUploadTooLarge
		case errors.Is(err, http.ErrNotMultipart):
			return nil, nil
		default:
			return nil, err
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, err
		}
		buf, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, err
		}
		return &types.UploadedFile{
			Name:     header.Filename,
			Buffer:   buf,
			MIMEType: strings.TrimSpace(header.Header.Get("Content-Type")),
		}, nil
	}
	return nil, nil
}
