package config

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

const (
	// ClientName is the product token sent to the provider.
	ClientName = "go-mmgateway"
	// ClientVersion is sent to the provider in the User-Agent.
	ClientVersion = "0.3.0"
)

// ProviderHeaders returns the static headers attached to every provider
// request: User-Agent plus optional organization and project scoping.
func (c *ServerConfig) ProviderHeaders() http.Header {
	headers := make(http.Header)
	headers.Set("User-Agent", UserAgent())
	if c == nil {
		return headers
	}
	if org := strings.TrimSpace(c.Organization); org != "" {
		headers.Set("OpenAI-Organization", org)
	}
	if project := strings.TrimSpace(c.Project); project != "" {
		headers.Set("OpenAI-Project", project)
	}
	return headers
}

// UserAgent builds <name>/<version> (<os_type>; <arch>).
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", ClientName, ClientVersion, osType(), arch())
}

func osType() string {
	switch runtime.GOOS {
	case "darwin":
		return "Mac OS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	default:
		return runtime.GOOS
	}
}

func arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	default:
		return runtime.GOARCH
	}
}
