package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// providerErrorPaths are tried in order to find a human-readable message in a
// provider error body. OpenAI nests it under error.message; other
// compatible providers use flatter shapes.
var providerErrorPaths = []string{
	"error.message",
	"message",
	"detail",
	"error_description",
	"error",
	"errors.0.message",
	"errors.0.detail",
	"errors.0",
}

// formatProviderError summarizes a failed provider answer for logs. The
// client always receives the provider body itself.
func formatProviderError(statusCode int, rawBody []byte, requestID string) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}

	var msg string
	if detail := providerErrorMessage(rawBody); detail != "" {
		msg = fmt.Sprintf("Provider returned HTTP %s: %s", status, detail)
	} else if preview := compactBodyPreview(rawBody, 280); preview != "" {
		msg = fmt.Sprintf("Provider returned HTTP %s with unparsed body: %s", status, preview)
	} else {
		msg = fmt.Sprintf("Provider returned HTTP %s with empty error body", status)
	}
	if requestID != "" {
		msg += " (request_id: " + requestID + ")"
	}
	return msg
}

func providerErrorMessage(rawBody []byte) string {
	if !gjson.ValidBytes(rawBody) {
		return ""
	}
	for _, path := range providerErrorPaths {
		v := gjson.GetBytes(rawBody, path)
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(rawBody)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
