// Package normalize turns each inbound request shape into a
// types.NormalizedRequest shaped for the provider. Defaults from the
// capability table are applied here and nowhere else.
package normalize

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"github.com/n0madic/go-mmgateway/internal/config"
	"github.com/n0madic/go-mmgateway/internal/extract"
	"github.com/n0madic/go-mmgateway/internal/types"
)

// TextExtractor returns the plain text of an uploaded document.
type TextExtractor func(buf []byte, mimeType string) (string, error)

// Normalizer builds NormalizedRequests using one capability defaults table.
type Normalizer struct {
	defaults config.Capabilities
	extract  TextExtractor
}

// New creates a Normalizer. A nil table uses the built-in defaults.
func New(defaults config.Capabilities) *Normalizer {
	if defaults == nil {
		defaults = config.DefaultCapabilities()
	}
	return &Normalizer{defaults: defaults, extract: extract.Text}
}

// WithExtractor replaces the document text extractor.
func (n *Normalizer) WithExtractor(fn TextExtractor) *Normalizer {
	n.extract = fn
	return n
}

// FileInput is a multipart upload plus its optional form fields.
type FileInput struct {
	File      *types.UploadedFile
	Prompt    string
	Model     string
	MaxTokens string
	Action    string
}

// Chat normalizes a pass-through chat completion body. Only model is defaulted;
// messages and every other field reach the provider untouched.
func (n *Normalizer) Chat(body []byte) (types.NormalizedRequest, error) {
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return types.NormalizedRequest{}, invalid(msgInvalidJSON)
	}
	if strings.TrimSpace(req.Model) == "" && req.Extra["model"] == nil {
		req.Model = n.defaults.For(types.CapabilityChat).Model
	}
	return types.NormalizedRequest{
		Capability: types.CapabilityChat,
		Model:      req.Model,
		Payload:    req,
		Summary:    req.LastUserText(),
	}, nil
}

// PDF wraps an uploaded PDF as a data URI in a single user message.
func (n *Normalizer) PDF(in FileInput) (types.NormalizedRequest, error) {
	if in.File == nil {
		return types.NormalizedRequest{}, invalid(msgNoFile)
	}
	return n.fileMessage(types.CapabilityPDF, in, extract.MIMEPDF), nil
}

// Vision wraps an uploaded image as a data URI in a single user message.
func (n *Normalizer) Vision(in FileInput) (types.NormalizedRequest, error) {
	if in.File == nil {
		return types.NormalizedRequest{}, invalid(msgNoFile)
	}
	mimeType := strings.TrimSpace(in.File.MIMEType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(in.File.Buffer)
	}
	return n.fileMessage(types.CapabilityVision, in, mimeType), nil
}

func (n *Normalizer) fileMessage(capability types.Capability, in FileInput, mimeType string) types.NormalizedRequest {
	row := n.defaults.For(capability)
	prompt := firstNonEmpty(in.Prompt, row.Prompt)
	model := firstNonEmpty(in.Model, row.Model)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: DataURI(mimeType, in.File.Buffer),
				}),
			}),
		},
		MaxTokens: openai.Int(int64(parseMaxTokens(in.MaxTokens, row.MaxTokens))),
	}
	return types.NormalizedRequest{
		Capability: capability,
		Model:      model,
		Payload:    params,
		Summary:    prompt,
	}
}

// ImageSearch validates the search query.
func (n *Normalizer) ImageSearch(query string) (types.NormalizedRequest, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.NormalizedRequest{}, invalid(msgNoQuery)
	}
	return types.NormalizedRequest{
		Capability: types.CapabilityImageSearch,
		Payload:    types.ImageSearchPayload{Query: query},
		Summary:    query,
	}, nil
}

// Speech validates a text-to-speech request and defaults its model.
func (n *Normalizer) Speech(req types.SpeechRequest) (types.NormalizedRequest, error) {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Voice) == "" {
		return types.NormalizedRequest{}, invalid(msgSpeechFields)
	}
	model := firstNonEmpty(req.Model, n.defaults.For(types.CapabilitySpeech).Model)
	return types.NormalizedRequest{
		Capability: types.CapabilitySpeech,
		Model:      model,
		Payload: types.SpeechPayload{
			Model: model,
			Input: req.Input,
			Voice: req.Voice,
		},
		Summary: req.Input,
	}, nil
}

// ImageGeneration validates an image generation request and defaults model,
// count and size.
func (n *Normalizer) ImageGeneration(req types.ImageGenerateRequest) (types.NormalizedRequest, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.NormalizedRequest{}, invalid(msgPromptRequired)
	}
	row := n.defaults.For(types.CapabilityImageGeneration)
	count := row.N
	if req.N != nil && *req.N > 0 {
		count = *req.N
	}
	model := firstNonEmpty(req.Model, row.Model)
	return types.NormalizedRequest{
		Capability: types.CapabilityImageGeneration,
		Model:      model,
		Payload: types.ImageGeneratePayload{
			Model:  model,
			Prompt: req.Prompt,
			N:      count,
			Size:   firstNonEmpty(req.Size, row.Size),
		},
		Summary: req.Prompt,
	}, nil
}

// DataURI encodes buf as a base64 data URI tagged with mimeType.
func DataURI(mimeType string, buf []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(buf)
}

// parseMaxTokens returns the parsed value, or fallback when raw is missing,
// not an integer, or not positive.
func parseMaxTokens(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
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
