package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// --- Request types ---

// ChatRequest is the body accepted by POST /chat. Only the fields the gateway
// inspects are typed; everything else is kept verbatim in Extra and written
// back unchanged so new provider parameters pass through.
type ChatRequest struct {
	Model    string
	Messages json.RawMessage
	Extra    map[string]json.RawMessage
}

// UnmarshalJSON splits the object into the typed fields and the pass-through map.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = ChatRequest{}
	if raw, ok := fields["model"]; ok {
		// A non-string model is left for the provider to reject.
		if err := json.Unmarshal(raw, &r.Model); err != nil {
			r.Extra = map[string]json.RawMessage{"model": raw}
		}
		delete(fields, "model")
	}
	if raw, ok := fields["messages"]; ok {
		r.Messages = raw
		delete(fields, "messages")
	}
	if len(fields) > 0 {
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage, len(fields))
		}
		for k, v := range fields {
			r.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON merges the typed fields back with the pass-through map.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.Model != "" {
		model, err := json.Marshal(r.Model)
		if err != nil {
			return nil, err
		}
		out["model"] = model
	}
	if len(r.Messages) > 0 {
		out["messages"] = r.Messages
	}
	return json.Marshal(out)
}

// LastUserText returns the text of the last user message, or "" if the
// messages array is missing or malformed. Content arrays contribute their
// text parts joined by newlines.
func (r ChatRequest) LastUserText() string {
	if len(bytes.TrimSpace(r.Messages)) == 0 {
		return ""
	}
	var messages []ChatMessage
	if err := json.Unmarshal(r.Messages, &messages); err != nil {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return ContentText(messages[i].Content)
		}
	}
	return ""
}

// ChatMessage represents an OpenAI chat message as read by the gateway.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content,omitempty"`
}

// ContentText flattens a message content value (string or parts array) to text.
func ContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, raw := range v {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if typ, _ := part["type"].(string); typ != "text" {
				continue
			}
			if text, _ := part["text"].(string); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// SpeechRequest is the body accepted by POST /tts.
type SpeechRequest struct {
	Input string `json:"input"`
	Voice string `json:"voice"`
	Model string `json:"model,omitempty"`
}

// SpeechPayload is the provider audio/speech request body.
type SpeechPayload struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// ImageGenerateRequest is the body accepted by POST /image/generate.
type ImageGenerateRequest struct {
	Prompt string `json:"prompt"`
	N      *int   `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
	Model  string `json:"model,omitempty"`
}

// ImageGeneratePayload is the provider images/generations request body.
type ImageGeneratePayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

// ImageSearchPayload carries the query for the external image search service.
type ImageSearchPayload struct {
	Query string `json:"query"`
}

// --- Response types ---

// ImageSearchResponse is the body returned by GET /image/search.
type ImageSearchResponse struct {
	Image string `json:"image"`
}

// ErrorResponse is the gateway's own error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
