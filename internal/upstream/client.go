package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-mmgateway/internal/config"
	"github.com/n0madic/go-mmgateway/internal/types"
)

const defaultSpeechMIME = "audio/mpeg"

// endpoint is the provider path serving a capability, relative to the base URL.
type endpoint struct {
	path   string
	accept string
}

func endpointFor(capability types.Capability) (endpoint, bool) {
	switch {
	case capability.IsChatCompletion():
		return endpoint{path: "chat/completions"}, true
	case capability == types.CapabilitySpeech:
		return endpoint{path: "audio/speech", accept: defaultSpeechMIME}, true
	case capability == types.CapabilityImageGeneration:
		return endpoint{path: "images/generations"}, true
	}
	return endpoint{}, false
}

// Client sends normalized requests to the OpenAI-compatible provider. It makes
// exactly one attempt per call and reports the provider's status and body
// without interpretation.
type Client struct {
	sdk     openai.Client
	Verbose bool
	Debug   bool

	dumpMu sync.Mutex
	dumpTo io.Writer
}

// New creates a provider client from cfg. The API key is attached as a bearer
// token by an oauth2 transport; a missing key is left for the provider to reject.
func New(cfg *config.ServerConfig) *Client {
	httpClient := &http.Client{}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}

	// openai.NewClient applies its own env-derived defaults first; clear the
	// headers they set so only cfg decides auth and scoping.
	opts := []option.RequestOption{
		option.WithHeaderDel("Authorization"),
		option.WithHeaderDel("OpenAI-Organization"),
		option.WithHeaderDel("OpenAI-Project"),
		option.WithBaseURL(cfg.ProviderBaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	for name, values := range cfg.ProviderHeaders() {
		for _, v := range values {
			opts = append(opts, option.WithHeader(name, v))
		}
	}

	return &Client{
		sdk:     openai.NewClient(opts...),
		Verbose: cfg.Verbose,
		Debug:   cfg.Debug,
		dumpTo:  os.Stderr,
	}
}

// Do performs one provider call for req. It never returns a nil-status
// result: transport failures are reported as status 500 with Err set.
func (c *Client) Do(ctx context.Context, req types.NormalizedRequest) Result {
	start := time.Now()
	ep, ok := endpointFor(req.Capability)
	if !ok {
		return transportFailure(fmt.Errorf("no provider endpoint for capability %q", req.Capability), 0)
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return transportFailure(fmt.Errorf("marshal %s payload: %w", req.Capability, err), 0)
	}

	if c.Verbose {
		slog.Info("upstream.request",
			"capability", string(req.Capability),
			"model", req.Model,
			"path", ep.path,
			"payload_bytes", len(payload),
		)
	}
	if c.Debug {
		c.writeDebugDumpBlock("UPSTREAM REQUEST "+ep.path, payload)
	}

	var snap snapshot
	opts := []option.RequestOption{option.WithMiddleware(snap.capture)}
	if ep.accept != "" {
		opts = append(opts, option.WithHeader("Accept", ep.accept))
	}

	// The SDK turns non-2xx answers into *openai.Error; the snapshot keeps
	// the provider's own status and body, so that error is not needed.
	sdkErr := c.sdk.Post(ctx, ep.path, json.RawMessage(payload), nil, opts...)
	elapsed := time.Since(start)

	if !snap.received {
		err := snap.err
		if err == nil {
			err = sdkErr
		}
		if err == nil {
			err = errors.New("provider returned no response")
		}
		slog.Error("upstream.transport.failed",
			"capability", string(req.Capability),
			"error", err,
		)
		return transportFailure(err, elapsed)
	}

	result := Result{
		StatusCode: snap.status,
		Body:       classifyBody(req.Capability, snap.status, snap.header, snap.body),
		RequestID:  upstreamRequestID(snap.header),
		Duration:   elapsed,
	}
	if c.Verbose {
		attrs := []any{
			"capability", string(req.Capability),
			"status", result.StatusCode,
			"body", result.Body.Kind.String(),
			"duration_ms", elapsed.Milliseconds(),
		}
		if result.RequestID != "" {
			attrs = append(attrs, "request_id", result.RequestID)
		}
		slog.Info("upstream.response", attrs...)
	}
	if c.Debug {
		c.dumpUpstreamResponse(snap, result.Body)
	}
	return result
}

// snapshot records the raw provider response as it passes through the SDK.
type snapshot struct {
	received bool
	status   int
	header   http.Header
	body     []byte
	err      error
}

func (s *snapshot) capture(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil {
		s.err = err
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		s.err = fmt.Errorf("read provider response: %w", err)
		return nil, s.err
	}
	s.received = true
	s.status = resp.StatusCode
	s.header = resp.Header.Clone()
	s.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// classifyBody decides the body variant. A successful speech response is
// audio; anything else that parses as JSON is JSON.
func classifyBody(capability types.Capability, status int, header http.Header, raw []byte) Body {
	contentType := strings.TrimSpace(header.Get("Content-Type"))
	success := status >= 200 && status < 300
	if capability == types.CapabilitySpeech && success {
		if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
			contentType = defaultSpeechMIME
		}
		return Body{Kind: BodyBinary, Bytes: raw, MIME: contentType}
	}
	if len(raw) > 0 && json.Valid(raw) {
		return Body{Kind: BodyJSON, JSON: json.RawMessage(raw)}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Body{Kind: BodyBinary, Bytes: raw, MIME: contentType}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func upstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-request-id"),
		headers.Get("openai-request-id"),
		headers.Get("request-id"),
		headers.Get("cf-ray"),
	)
}
