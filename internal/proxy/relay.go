package proxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-mmgateway/internal/metrics"
	"github.com/n0madic/go-mmgateway/internal/types"
	"github.com/n0madic/go-mmgateway/internal/upstream"
)

const transportErrorLabel = "Unknown error"

// relay writes the single terminal response for a provider result and
// returns the outcome label recorded in metrics.
func relay(w http.ResponseWriter, capability types.Capability, res upstream.Result) string {
	if res.Err != nil {
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:   transportErrorLabel,
			Message: res.Err.Error(),
		})
		return metrics.OutcomeTransportError
	}

	outcome := metrics.OutcomeSuccess
	if !res.OK() {
		outcome = metrics.OutcomeProviderError
		slog.Warn("upstream.error",
			"capability", string(capability),
			"detail", formatProviderError(res.StatusCode, providerBodyBytes(res.Body), res.RequestID),
		)
	}

	switch res.Body.Kind {
	case upstream.BodyJSON:
		writeRaw(w, res.StatusCode, "application/json", res.Body.JSON)
	case upstream.BodyBinary:
		if res.OK() {
			if capability == types.CapabilitySpeech {
				w.Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
			}
			writeRaw(w, res.StatusCode, res.Body.MIME, res.Body.Bytes)
			break
		}
		text := strings.ToValidUTF8(string(res.Body.Bytes), "\uFFFD")
		if json.Valid([]byte(text)) {
			writeRaw(w, res.StatusCode, "application/json", []byte(text))
		} else {
			writeRaw(w, res.StatusCode, "text/plain; charset=utf-8", []byte(text))
		}
	default:
		// A result with neither variant set has no body to relay.
		w.WriteHeader(res.StatusCode)
	}
	return outcome
}

func providerBodyBytes(body upstream.Body) []byte {
	if body.Kind == upstream.BodyJSON {
		return body.JSON
	}
	return body.Bytes
}
