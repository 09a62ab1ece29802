package config

import "github.com/n0madic/go-mmgateway/internal/types"

// CapabilityDefaults holds the values a normalizer fills in when the inbound
// request leaves them out. Zero fields do not apply to the capability.
type CapabilityDefaults struct {
	Model     string `yaml:"model"`
	Prompt    string `yaml:"prompt"`
	MaxTokens int    `yaml:"max_tokens"`
	N         int    `yaml:"n"`
	Size      string `yaml:"size"`
}

// Capabilities is the defaults table keyed by capability.
type Capabilities map[types.Capability]CapabilityDefaults

// DefaultCapabilities returns a fresh copy of the built-in defaults table.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		types.CapabilityChat: {
			Model: "gpt-4o",
		},
		types.CapabilityVision: {
			Model:     "gpt-4o",
			Prompt:    "What is in this image?",
			MaxTokens: 300,
		},
		types.CapabilityPDF: {
			Model:     "gpt-4o",
			Prompt:    "What is in this PDF?",
			MaxTokens: 300,
		},
		types.CapabilityDocument: {
			Model:     "gpt-4o",
			MaxTokens: 4000,
		},
		types.CapabilitySpeech: {
			Model: "tts-1",
		},
		types.CapabilityImageGeneration: {
			Model: "dall-e-3",
			N:     1,
			Size:  "1024x1024",
		},
		types.CapabilityImageSearch: {},
	}
}

// For returns the defaults row for c, falling back to the built-in row when
// the table has none.
func (cs Capabilities) For(c types.Capability) CapabilityDefaults {
	if row, ok := cs[c]; ok {
		return row
	}
	return DefaultCapabilities()[c]
}

func (d CapabilityDefaults) merge(override CapabilityDefaults) CapabilityDefaults {
	if override.Model != "" {
		d.Model = override.Model
	}
	if override.Prompt != "" {
		d.Prompt = override.Prompt
	}
	if override.MaxTokens > 0 {
		d.MaxTokens = override.MaxTokens
	}
	if override.N > 0 {
		d.N = override.N
	}
	if override.Size != "" {
		d.Size = override.Size
	}
	return d
}
