package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-mmgateway/internal/extract"
	"github.com/n0madic/go-mmgateway/internal/imagesearch"
	"github.com/n0madic/go-mmgateway/internal/metrics"
	"github.com/n0madic/go-mmgateway/internal/normalize"
	"github.com/n0madic/go-mmgateway/internal/types"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readLimitedRequestBody(w, r)
	if err != nil {
		s.rejectBody(w, types.CapabilityChat, err)
		return
	}
	req, err := s.normalizer.Chat(body)
	if err != nil {
		s.writeRequestError(w, types.CapabilityChat, err)
		return
	}
	s.forward(w, r, req)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, types.CapabilityPDF, s.normalizer.PDF, "file")
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, types.CapabilityVision, s.normalizer.Vision, "image", "file")
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, types.CapabilityDocument, s.normalizer.Document, "file")
}

func (s *Server) handleUpload(
	w http.ResponseWriter,
	r *http.Request,
	capability types.Capability,
	build func(normalize.FileInput) (types.NormalizedRequest, error),
	fields ...string,
) {
	file, err := readUpload(w, r, fields...)
	if err != nil {
		s.rejectBody(w, capability, err)
		return
	}
	in := normalize.FileInput{
		File:      file,
		Prompt:    r.FormValue("prompt"),
		Model:     r.FormValue("model"),
		MaxTokens: r.FormValue("max_tokens"),
		Action:    r.FormValue("action"),
	}
	if file != nil && s.Config.Verbose {
		slog.Info("upload",
			"capability", string(capability),
			"name", file.Name,
			"mime", file.MIMEType,
			"bytes", file.Size(),
			"request_id", requestIDFrom(r.Context()),
		)
	}
	req, err := build(in)
	if err != nil {
		s.writeRequestError(w, capability, err)
		return
	}
	s.forward(w, r, req)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	body, err := readLimitedRequestBody(w, r)
	if err != nil {
		s.rejectBody(w, types.CapabilitySpeech, err)
		return
	}
	var in types.SpeechRequest
	if err := normalize.DecodeJSON(body, &in); err != nil {
		s.writeRequestError(w, types.CapabilitySpeech, err)
		return
	}
	req, err := s.normalizer.Speech(in)
	if err != nil {
		s.writeRequestError(w, types.CapabilitySpeech, err)
		return
	}
	s.forward(w, r, req)
}

func (s *Server) handleImageGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := readLimitedRequestBody(w, r)
	if err != nil {
		s.rejectBody(w, types.CapabilityImageGeneration, err)
		return
	}
	var in types.ImageGenerateRequest
	if err := normalize.DecodeJSON(body, &in); err != nil {
		s.writeRequestError(w, types.CapabilityImageGeneration, err)
		return
	}
	req, err := s.normalizer.ImageGeneration(in)
	if err != nil {
		s.writeRequestError(w, types.CapabilityImageGeneration, err)
		return
	}
	s.forward(w, r, req)
}

func (s *Server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	const capability = types.CapabilityImageSearch
	req, err := s.normalizer.ImageSearch(r.URL.Query().Get("q"))
	if err != nil {
		s.writeRequestError(w, capability, err)
		return
	}
	query := req.Payload.(types.ImageSearchPayload).Query

	link, err := s.imageSearch.Search(context.WithoutCancel(r.Context()), query)
	switch {
	case errors.Is(err, imagesearch.ErrNotFound):
		s.metrics.RecordOutcome(string(capability), metrics.OutcomeNotFound)
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.metrics.RecordOutcome(string(capability), metrics.OutcomeTransportError)
		slog.Error("request failed", "status", http.StatusInternalServerError, "error", err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:   "Failed to search image",
			Message: err.Error(),
		})
	default:
		s.metrics.RecordOutcome(string(capability), metrics.OutcomeSuccess)
		writeJSON(w, http.StatusOK, types.ImageSearchResponse{Image: link})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.ReadAll(r.Context())
	if err != nil {
		slog.Error("request failed", "status", http.StatusInternalServerError, "error", err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:   "Failed to read history",
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// forward sends req to the provider, relays the result and, for capabilities
// that keep history, records the exchange. The inbound request's
// cancellation is not propagated: a dropped client does not abort the call.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, req types.NormalizedRequest) {
	res := s.provider.Do(context.WithoutCancel(r.Context()), req)
	outcome := relay(w, req.Capability, res)

	status := res.StatusCode
	if res.Err != nil {
		status = 0
	}
	s.metrics.RecordProviderCall(string(req.Capability), status, res.Duration)
	s.metrics.RecordOutcome(string(req.Capability), outcome)

	if res.OK() && req.Capability.RecordsHistory() && s.history != nil {
		if reply := assistantText(res.Body.JSON); reply != "" {
			s.history.Append(req.Summary, reply)
		}
	}
}

// assistantText returns the first choice's message text, or "" when the
// response carries none.
func assistantText(body []byte) string {
	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type != gjson.String {
		return ""
	}
	if strings.TrimSpace(content.String()) == "" {
		return ""
	}
	return content.String()
}

// writeRequestError answers a request that failed before reaching the provider.
func (s *Server) writeRequestError(w http.ResponseWriter, capability types.Capability, err error) {
	s.metrics.RecordOutcome(string(capability), metrics.OutcomeInvalid)

	var validation *normalize.ValidationError
	var unsupported *extract.UnsupportedFormatError
	var extraction *extract.ExtractionError
	switch {
	case errors.As(err, &validation):
		writeError(w, validation.StatusCode(), validation.Message)
	case errors.As(err, &unsupported), errors.As(err, &extraction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// rejectBody answers a request whose body could not be read.
func (s *Server) rejectBody(w http.ResponseWriter, capability types.Capability, err error) {
	s.metrics.RecordOutcome(string(capability), metrics.OutcomeInvalid)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case capability.IsChatCompletion() && capability != types.CapabilityChat:
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
	default:
		writeError(w, http.StatusBadRequest, "Invalid request body")
	}
}
