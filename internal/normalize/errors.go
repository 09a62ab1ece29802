package normalize

import (
	"encoding/json"
	"net/http"
)

// ValidationError reports inbound input that cannot be normalized. It is
// always answered locally with 400 and never reaches the provider.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StatusCode is the HTTP status a ValidationError maps to.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

const (
	msgInvalidJSON    = "Invalid JSON body"
	msgNoFile         = "No file uploaded"
	msgNoText         = "Could not extract text"
	msgNoQuery        = "No query provided"
	msgSpeechFields   = "Input and voice are required"
	msgPromptRequired = "Prompt is required"
)

func invalid(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// DecodeJSON unmarshals a JSON request body into dst, reporting any failure
// as a ValidationError.
func DecodeJSON(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return invalid(msgInvalidJSON)
	}
	return nil
}
