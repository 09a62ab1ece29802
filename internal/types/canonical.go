package types

// Capability identifies one supported interaction type.
type Capability string

const (
	CapabilityChat            Capability = "chat"
	CapabilityVision          Capability = "vision"
	CapabilityPDF             Capability = "pdf"
	CapabilityDocument        Capability = "document"
	CapabilitySpeech          Capability = "speech"
	CapabilityImageGeneration Capability = "image_generation"
	CapabilityImageSearch     Capability = "image_search"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapabilityChat,
	CapabilityVision,
	CapabilityPDF,
	CapabilityDocument,
	CapabilitySpeech,
	CapabilityImageGeneration,
	CapabilityImageSearch,
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// IsChatCompletion reports whether the capability is served by the provider's
// chat completions endpoint.
func (c Capability) IsChatCompletion() bool {
	switch c {
	case CapabilityChat, CapabilityVision, CapabilityPDF, CapabilityDocument:
		return true
	}
	return false
}

// RecordsHistory reports whether a successful interaction of this capability
// is appended to the history log.
func (c Capability) RecordsHistory() bool {
	return c == CapabilityChat || c == CapabilityDocument
}

// NormalizedRequest is the provider-agnostic form every inbound request is
// reduced to. Payload is already shaped for the provider endpoint of
// Capability and carries its defaults; nothing downstream fills them in again.
// Summary is the user-side text recorded in history.
type NormalizedRequest struct {
	Capability Capability
	Model      string
	Payload    any
	Summary    string
}

// UploadedFile is a single multipart upload held in memory for one request.
type UploadedFile struct {
	Name     string
	Buffer   []byte
	MIMEType string
}

// Size returns the file size in bytes.
func (f *UploadedFile) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Buffer)
}
