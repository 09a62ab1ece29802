package normalize

import (
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"github.com/n0madic/go-mmgateway/internal/types"
)

const documentPrefix = "Document content:\n\n"

// documentAction is an instruction template with one %s slot for the user's
// prompt and the text used when no prompt was given.
type documentAction struct {
	template string
	fallback string
}

var documentActions = map[string]documentAction{
	"analyze": {
		template: "Analyze this document and %s",
		fallback: "provide a summary of its key points.",
	},
	"translate": {
		template: "Translate this document %s",
		fallback: "into English.",
	},
	"fix": {
		template: "Fix grammar, spelling and style errors in this document. %s",
		fallback: "Return the corrected text.",
	},
}

var defaultDocumentAction = documentAction{template: "%s", fallback: "Summarize this document."}

// DocumentInstruction renders the instruction for action, substituting prompt
// when it is non-empty. Unknown actions use the default template.
func DocumentInstruction(action, prompt string) string {
	a, ok := documentActions[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		a = defaultDocumentAction
	}
	fill := strings.TrimSpace(prompt)
	if fill == "" {
		fill = a.fallback
	}
	return fmt.Sprintf(a.template, fill)
}

// Document extracts the upload's text and asks the provider to act on it.
// Extraction errors are returned as-is; empty text is a ValidationError.
func (n *Normalizer) Document(in FileInput) (types.NormalizedRequest, error) {
	if in.File == nil {
		return types.NormalizedRequest{}, invalid(msgNoFile)
	}
	text, err := n.extract(in.File.Buffer, in.File.MIMEType)
	if err != nil {
		return types.NormalizedRequest{}, err
	}
	if strings.TrimSpace(text) == "" {
		return types.NormalizedRequest{}, invalid(msgNoText)
	}

	row := n.defaults.For(types.CapabilityDocument)
	model := firstNonEmpty(in.Model, row.Model)
	instruction := DocumentInstruction(in.Action, in.Prompt)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(documentPrefix + text + "\n\n" + instruction),
		},
		MaxTokens: openai.Int(int64(parseMaxTokens(in.MaxTokens, row.MaxTokens))),
	}

	summary := instruction
	if name := strings.TrimSpace(in.File.Name); name != "" {
		summary = "[" + name + "] " + instruction
	}
	return types.NormalizedRequest{
		Capability: types.CapabilityDocument,
		Model:      model,
		Payload:    params,
		Summary:    summary,
	}, nil
}
