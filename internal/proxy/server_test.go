package proxy

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-mmgateway/internal/config"
	"github.com/n0madic/go-mmgateway/internal/extract"
	"github.com/n0madic/go-mmgateway/internal/imagesearch"
	"github.com/n0madic/go-mmgateway/internal/types"
	"github.com/n0madic/go-mmgateway/internal/upstream"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []types.NormalizedRequest
	ctxErrs []error
	result  upstream.Result
}

func (f *fakeProvider) Do(ctx context.Context, req types.NormalizedRequest) upstream.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.result
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) lastPayload(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("provider was not called")
	}
	b, err := json.Marshal(f.calls[len(f.calls)-1].Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []types.HistoryEntry
	readErr error
}

func (f *fakeHistory) Append(userMessage, aiResponse string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, types.NewHistoryEntry(userMessage, aiResponse, time.Now()))
}

func (f *fakeHistory) ReadAll(context.Context) ([]types.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return append([]types.HistoryEntry{}, f.entries...), nil
}

func (f *fakeHistory) all() []types.HistoryEntry {
	entries, _ := f.ReadAll(context.Background())
	return entries
}

type fakeSearch struct {
	link  string
	err   error
	query string
}

func (f *fakeSearch) Search(_ context.Context, query string) (string, error) {
	f.query = query
	return f.link, f.err
}

type harness struct {
	server   *Server
	provider *fakeProvider
	history  *fakeHistory
	search   *fakeSearch
}

func newHarness(t *testing.T, result upstream.Result) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{result: result},
		history:  &fakeHistory{},
		search:   &fakeSearch{},
	}
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 3000, Capabilities: config.DefaultCapabilities()}
	h.server = New(cfg, Deps{Provider: h.provider, ImageSearch: h.search, History: h.history})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonResult(status int, body string) upstream.Result {
	return upstream.Result{StatusCode: status, Body: upstream.Body{Kind: upstream.BodyJSON, JSON: json.RawMessage(body)}}
}

func transportResult() upstream.Result {
	return upstream.Result{
		StatusCode: http.StatusInternalServerError,
		Err:        &upstream.TransportError{Err: errors.New("dial tcp: connection refused")},
	}
}

const chatReply = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."}}]}`

type part struct {
	field    string
	filename string
	mimeType string
	content  []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		hdr.Set("Content-Type", f.mimeType)
		w, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(f.content)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func docxBytes(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var xmlBody strings.Builder
	xmlBody.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		xmlBody.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	xmlBody.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(f, xmlBody.String())
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func assertJSONError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "error").String(); got != message {
		t.Fatalf("error = %q, want %q", got, message)
	}
}

func TestChatRelaysSuccessAndRecordsHistory(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(
		`{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"Capital of France?"}],"temperature":0}`))

	rec := h.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != chatReply {
		t.Fatalf("body changed:\n got %s\nwant %s", rec.Body.String(), chatReply)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	payload := h.provider.lastPayload(t)
	if gjson.GetBytes(payload, "model").String() != "gpt-4o" {
		t.Fatalf("model not defaulted: %s", payload)
	}
	if !gjson.GetBytes(payload, "temperature").Exists() {
		t.Fatalf("extra field dropped: %s", payload)
	}

	entries := h.history.all()
	if len(entries) != 1 || entries[0].UserMessage != "Capital of France?" || entries[0].AIResponse != "Paris." {
		t.Fatalf("history = %+v", entries)
	}
}

func TestChatKeepsCallerModel(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"model":"gpt-4o-mini","messages":[]}`)))

	if got := gjson.GetBytes(h.provider.lastPayload(t), "model").String(); got != "gpt-4o-mini" {
		t.Fatalf("model = %q", got)
	}
}

func TestChatRelaysProviderErrorVerbatim(t *testing.T) {
	const body = `{"error":"rate_limited"}`
	h := newHarness(t, jsonResult(http.StatusTooManyRequests, body))

	rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)))
	if rec.Code != http.StatusTooManyRequests || rec.Body.String() != body {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if n := len(h.history.all()); n != 0 {
		t.Fatalf("failed request recorded %d history entries", n)
	}
}

func TestChatInvalidJSON(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":`)))
	assertJSONError(t, rec, http.StatusBadRequest, "Invalid JSON body")
	if h.provider.callCount() != 0 {
		t.Fatal("provider called for invalid body")
	}
}

func TestChatWithoutAssistantTextSkipsHistory(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[]}}]}`))
	rec := h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if n := len(h.history.all()); n != 0 {
		t.Fatalf("expected no history, got %d", n)
	}
}

func TestTransportFailureIsGeneric500ForEveryCapability(t *testing.T) {
	requests := map[string]func(t *testing.T) *http.Request{
		"chat": func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`))
		},
		"pdf": func(t *testing.T) *http.Request {
			return multipartRequest(t, "/chat/pdf", nil, part{"file", "a.pdf", "application/pdf", []byte("%PDF")})
		},
		"vision": func(t *testing.T) *http.Request {
			return multipartRequest(t, "/chat/vision", nil, part{"image", "a.png", "image/png", []byte("png")})
		},
		"document": func(t *testing.T) *http.Request {
			return multipartRequest(t, "/chat/document", nil, part{"file", "a.docx", extract.MIMEDOCX, docxBytes(t, "hello")})
		},
		"tts": func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"input":"hi","voice":"alloy"}`))
		},
		"image": func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/image/generate", strings.NewReader(`{"prompt":"a cat"}`))
		},
	}
	for name, build := range requests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, transportResult())
			rec := h.do(build(t))
			assertJSONError(t, rec, http.StatusInternalServerError, "Unknown error")
			if msg := gjson.Get(rec.Body.String(), "message").String(); !strings.Contains(msg, "connection refused") {
				t.Fatalf("message = %q", msg)
			}
			if h.provider.callCount() != 1 {
				t.Fatalf("provider called %d times, want 1", h.provider.callCount())
			}
			if n := len(h.history.all()); n != 0 {
				t.Fatalf("transport failure recorded history")
			}
		})
	}
}

func TestUploadRoutesRequireFile(t *testing.T) {
	for _, path := range []string{"/chat/pdf", "/chat/vision", "/chat/document"} {
		t.Run(path, func(t *testing.T) {
			h := newHarness(t, jsonResult(http.StatusOK, chatReply))

			rec := h.do(multipartRequest(t, path, map[string]string{"prompt": "hello", "max_tokens": "10"}))
			assertJSONError(t, rec, http.StatusBadRequest, "No file uploaded")

			rec = h.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
			assertJSONError(t, rec, http.StatusBadRequest, "No file uploaded")

			if h.provider.callCount() != 0 {
				t.Fatalf("provider called %d times", h.provider.callCount())
			}
		})
	}
}

func TestPDFBuildsDataURIMessage(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/pdf",
		map[string]string{"prompt": "Summarize", "max_tokens": "not-a-number"},
		part{"file", "report.pdf", "application/octet-stream", []byte("%PDF-1.4")}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}

	payload := h.provider.lastPayload(t)
	if got := gjson.GetBytes(payload, "max_tokens").Int(); got != 300 {
		t.Fatalf("max_tokens = %d, want 300", got)
	}
	url := gjson.GetBytes(payload, `messages.0.content.#(type=="image_url").image_url.url`).String()
	if !strings.HasPrefix(url, "data:application/pdf;base64,") {
		t.Fatalf("url = %q", url)
	}
	if n := len(h.history.all()); n != 0 {
		t.Fatalf("pdf requests must not record history, got %d", n)
	}
}

func TestVisionAcceptsImageField(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/vision", map[string]string{"max_tokens": "50"},
		part{"image", "cat.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	payload := h.provider.lastPayload(t)
	if gjson.GetBytes(payload, "max_tokens").Int() != 50 {
		t.Fatalf("max_tokens not taken from form: %s", payload)
	}
	if got := gjson.GetBytes(payload, `messages.0.content.#(type=="text").text`).String(); got != "What is in this image?" {
		t.Fatalf("prompt = %q", got)
	}
	if !strings.HasPrefix(gjson.GetBytes(payload, `messages.0.content.#(type=="image_url").image_url.url`).String(), "data:image/jpeg;base64,") {
		t.Fatalf("unexpected data uri in %s", payload)
	}
	if n := len(h.history.all()); n != 0 {
		t.Fatalf("vision requests must not record history, got %d", n)
	}
}

func TestInvalidUTF8ModelStillRelays(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/vision", map[string]string{"model": "gpt-4o\xff"},
		part{"image", "cat.png", "image/png", []byte("png")}))

	if rec.Code != http.StatusOK || rec.Body.String() != chatReply {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if h.provider.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1", h.provider.callCount())
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `mmgateway_provider_requests_total{capability="vision",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics missing %q", want)
	}
}

func TestDocumentSuccessRecordsHistory(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/document",
		map[string]string{"action": "translate", "prompt": "into French."},
		part{"file", "notes.docx", extract.MIMEDOCX, docxBytes(t, "Hello", "World")}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}

	payload := h.provider.lastPayload(t)
	want := "Document content:\n\nHello\nWorld\n\nTranslate this document into French."
	if got := gjson.GetBytes(payload, "messages.0.content").String(); got != want {
		t.Fatalf("prompt =\n%q\nwant\n%q", got, want)
	}
	if gjson.GetBytes(payload, "max_tokens").Int() != 4000 {
		t.Fatalf("max_tokens default not applied: %s", payload)
	}

	entries := h.history.all()
	if len(entries) != 1 || entries[0].UserMessage != "[notes.docx] Translate this document into French." || entries[0].AIResponse != "Paris." {
		t.Fatalf("history = %+v", entries)
	}
}

func TestDocumentUnsupportedType(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/document", nil, part{"file", "a.txt", "text/plain", []byte("hello")}))
	assertJSONError(t, rec, http.StatusBadRequest, "Unsupported file type: text/plain")
	if h.provider.callCount() != 0 {
		t.Fatal("provider called for unsupported document")
	}
}

func TestDocumentEmptyText(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/document", nil, part{"file", "blank.docx", extract.MIMEDOCX, docxBytes(t, "  ")}))
	assertJSONError(t, rec, http.StatusBadRequest, "Could not extract text")
	if h.provider.callCount() != 0 {
		t.Fatal("provider called for empty document")
	}
}

func TestDocumentExtractionFailure(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	rec := h.do(multipartRequest(t, "/chat/document", nil, part{"file", "broken.docx", extract.MIMEDOCX, []byte("not a zip")}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := gjson.Get(rec.Body.String(), "error").String(); !strings.HasPrefix(msg, "Failed to extract") {
		t.Fatalf("error = %q", msg)
	}
}

func TestSpeechRelaysAudio(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04}
	h := newHarness(t, upstream.Result{
		StatusCode: http.StatusOK,
		Body:       upstream.Body{Kind: upstream.BodyBinary, Bytes: audio, MIME: "audio/mpeg"},
	})
	rec := h.do(httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"input":"hello","voice":"alloy"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `inline; filename="speech.mp3"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), audio) {
		t.Fatalf("audio changed: %v", rec.Body.Bytes())
	}
	if gjson.GetBytes(h.provider.lastPayload(t), "model").String() != "tts-1" {
		t.Fatal("speech model not defaulted")
	}
	if n := len(h.history.all()); n != 0 {
		t.Fatalf("speech must not record history")
	}
}

func TestSpeechValidation(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, `{}`))
	rec := h.do(httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"input":"hello"}`)))
	assertJSONError(t, rec, http.StatusBadRequest, "Input and voice are required")

	rec = h.do(httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`not json`)))
	assertJSONError(t, rec, http.StatusBadRequest, "Invalid JSON body")

	if h.provider.callCount() != 0 {
		t.Fatal("provider called for invalid speech request")
	}
}

func TestBinaryProviderErrorRelayedAsText(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		wantType string
	}{
		{"plain text", []byte("upstream exploded"), "text/plain; charset=utf-8"},
		{"json in binary", []byte(`{"error":"bad voice"}`), "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, upstream.Result{
				StatusCode: http.StatusBadGateway,
				Body:       upstream.Body{Kind: upstream.BodyBinary, Bytes: tt.body, MIME: "application/octet-stream"},
			})
			rec := h.do(httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"input":"x","voice":"alloy"}`)))
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("status = %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.wantType {
				t.Fatalf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if rec.Body.String() != string(tt.body) {
				t.Fatalf("body = %q", rec.Body.String())
			}
			if rec.Header().Get("Content-Disposition") != "" {
				t.Fatal("error response must not be an attachment")
			}
		})
	}
}

func TestImageGenerate(t *testing.T) {
	const reply = `{"created":1,"data":[{"url":"https://img/1.png"}]}`
	h := newHarness(t, jsonResult(http.StatusOK, reply))

	rec := h.do(httptest.NewRequest(http.MethodPost, "/image/generate", strings.NewReader(`{"n":0}`)))
	assertJSONError(t, rec, http.StatusBadRequest, "Prompt is required")

	rec = h.do(httptest.NewRequest(http.MethodPost, "/image/generate", strings.NewReader(`{"prompt":"a lighthouse","size":"512x512"}`)))
	if rec.Code != http.StatusOK || rec.Body.String() != reply {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	payload := h.provider.lastPayload(t)
	if gjson.GetBytes(payload, "model").String() != "dall-e-3" || gjson.GetBytes(payload, "n").Int() != 1 || gjson.GetBytes(payload, "size").String() != "512x512" {
		t.Fatalf("payload = %s", payload)
	}
}

func TestImageSearch(t *testing.T) {
	h := newHarness(t, upstream.Result{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/image/search", nil))
	assertJSONError(t, rec, http.StatusBadRequest, "No query provided")

	h.search.link = "https://images.example/fox.jpg"
	rec = h.do(httptest.NewRequest(http.MethodGet, "/image/search?q=red+fox", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "image").String(); got != h.search.link {
		t.Fatalf("image = %q", got)
	}
	if h.search.query != "red fox" {
		t.Fatalf("query = %q", h.search.query)
	}

	h.search.err = imagesearch.ErrNotFound
	rec = h.do(httptest.NewRequest(http.MethodGet, "/image/search?q=zzzz", nil))
	assertJSONError(t, rec, http.StatusNotFound, "No image found")

	h.search.err = errors.New("service down")
	rec = h.do(httptest.NewRequest(http.MethodGet, "/image/search?q=cat", nil))
	assertJSONError(t, rec, http.StatusInternalServerError, "Failed to search image")

	if h.provider.callCount() != 0 {
		t.Fatal("image search must not call the provider")
	}
}

func TestHistoryRoute(t *testing.T) {
	h := newHarness(t, upstream.Result{})
	h.history.Append("q1", "a1")
	h.history.Append("q2", "a2")

	rec := h.do(httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []types.HistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[0].UserMessage != "q1" || entries[1].AIResponse != "a2" {
		t.Fatalf("entries = %+v", entries)
	}

	h.history.readErr = errors.New("parse history: unexpected EOF")
	rec = h.do(httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	assertJSONError(t, rec, http.StatusInternalServerError, "Failed to read history")
}

func TestEmptyHistoryIsEmptyArray(t *testing.T) {
	h := newHarness(t, upstream.Result{})
	rec := h.do(httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestProviderCallSurvivesClientCancel(t *testing.T) {
	h := newHarness(t, jsonResult(http.StatusOK, chatReply))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`)).WithContext(ctx)

	h.do(req)

	if h.provider.callCount() != 1 {
		t.Fatal("provider not called")
	}
	if err := h.provider.ctxErrs[0]; err != nil {
		t.Fatalf("provider context was canceled: %v", err)
	}
}

func TestRootHealthAndMetrics(t *testing.T) {
	h := newHarness(t, upstream.Result{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("root = %d %q", rec.Code, rec.Body.String())
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if gjson.Get(rec.Body.String(), "status").String() != "ok" {
		t.Fatalf("health = %q", rec.Body.String())
	}

	h.do(httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{`)))
	rec = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	for _, want := range []string{
		`mmgateway_capability_outcomes_total{capability="chat",outcome="invalid"} 1`,
		`mmgateway_http_requests_total{method="POST",route="/chat",status="400"} 1`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	h := newHarness(t, upstream.Result{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := h.do(req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Fatalf("expected generated uuid, got %q", rec.Header().Get("X-Request-ID"))
	}

	rec = h.do(httptest.NewRequest(http.MethodOptions, "/chat", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}
