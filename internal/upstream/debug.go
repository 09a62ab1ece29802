package upstream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// dumpUpstreamResponse writes the provider status line, headers and body to
// the dump writer. Binary bodies are summarized, not written.
func (c *Client) dumpUpstreamResponse(snap snapshot, body Body) {
	if c == nil || !c.Debug {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d %s\n", snap.status, http.StatusText(snap.status))
	writeHeaders(&b, snap.header)
	c.writeDebugDumpBlock("UPSTREAM RESPONSE", []byte(b.String()))

	title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", snap.status)
	switch body.Kind {
	case BodyJSON:
		c.writeDebugDumpBlock(title, body.JSON)
	default:
		summary := fmt.Sprintf("<%d bytes of %s>", len(body.Bytes), body.MIME)
		if strings.HasPrefix(body.MIME, "text/") {
			summary = string(body.Bytes)
		}
		c.writeDebugDumpBlock(title, []byte(summary))
	}
}

func writeHeaders(b *strings.Builder, header http.Header) {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range header[name] {
			fmt.Fprintf(b, "%s: %s\n", name, v)
		}
	}
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	if c == nil || c.dumpTo == nil {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	title = strings.TrimSpace(title)
	var b strings.Builder
	b.WriteString("===== " + title + " BEGIN =====\n")
	if len(data) > 0 {
		b.Write(data)
		if data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	b.WriteString("===== " + title + " END =====\n")
	if _, err := io.WriteString(c.dumpTo, b.String()); err != nil {
		slog.Error("upstream.dump.write.failed", "title", title, "error", err)
	}
}
