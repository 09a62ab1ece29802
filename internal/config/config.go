package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-mmgateway/internal/types"
)

const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 3000
	DefaultProviderBaseURL    = "https://api.openai.com/v1"
	DefaultHistoryPath        = "chat_history.json"
	DefaultImageSearchBaseURL = "https://api.unsplash.com"
)

// ServerConfig holds all server configuration. It is built once at startup
// and handed to the components that need it.
type ServerConfig struct {
	Host               string
	Port               int
	Verbose            bool
	Debug              bool
	APIKey             string
	Organization       string
	Project            string
	ProviderBaseURL    string
	HistoryPath        string
	ImageSearchKey     string
	ImageSearchBaseURL string
	ConfigPath         string

	Capabilities Capabilities
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:               envOrDefault("GATEWAY_HOST", DefaultHost),
		Port:               envInt("PORT", DefaultPort),
		Verbose:            envBool("GATEWAY_VERBOSE"),
		Debug:              envBool("GATEWAY_DEBUG"),
		APIKey:             strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Organization:       strings.TrimSpace(os.Getenv("OPENAI_ORGANIZATION")),
		Project:            strings.TrimSpace(os.Getenv("OPENAI_PROJECT")),
		ProviderBaseURL:    envOrDefault("OPENAI_BASE_URL", DefaultProviderBaseURL),
		HistoryPath:        envOrDefault("GATEWAY_HISTORY_PATH", DefaultHistoryPath),
		ImageSearchKey:     strings.TrimSpace(os.Getenv("IMAGE_SEARCH_API_KEY")),
		ImageSearchBaseURL: envOrDefault("IMAGE_SEARCH_BASE_URL", DefaultImageSearchBaseURL),
		ConfigPath:         strings.TrimSpace(os.Getenv("GATEWAY_CONFIG")),
		Capabilities:       DefaultCapabilities(),
	}
}

// fileConfig mirrors ServerConfig for YAML decoding so that absent keys can
// be told apart from zero values.
type fileConfig struct {
	Host               *string                                 `yaml:"host"`
	Port               *int                                    `yaml:"port"`
	Verbose            *bool                                   `yaml:"verbose"`
	Debug              *bool                                   `yaml:"debug"`
	Organization       *string                                 `yaml:"organization"`
	Project            *string                                 `yaml:"project"`
	ProviderBaseURL    *string                                 `yaml:"provider_base_url"`
	HistoryPath        *string                                 `yaml:"history_path"`
	ImageSearchBaseURL *string                                 `yaml:"image_search_base_url"`
	Capabilities       map[types.Capability]CapabilityDefaults `yaml:"capabilities"`
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current values; capability rows are merged field by field.
// Secrets (API keys) are never read from the file.
func (c *ServerConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.Host, fc.Host)
	setString(&c.Organization, fc.Organization)
	setString(&c.Project, fc.Project)
	setString(&c.ProviderBaseURL, fc.ProviderBaseURL)
	setString(&c.HistoryPath, fc.HistoryPath)
	setString(&c.ImageSearchBaseURL, fc.ImageSearchBaseURL)
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}

	if c.Capabilities == nil {
		c.Capabilities = DefaultCapabilities()
	}
	for capability, row := range fc.Capabilities {
		if !capability.Valid() {
			return fmt.Errorf("parse config %s: unknown capability %q", path, capability)
		}
		c.Capabilities[capability] = c.Capabilities[capability].merge(row)
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
