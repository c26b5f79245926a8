package models

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// AuthType represents how requests to the DICOMweb server are authorized
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

// ServerConfig represents the configured DICOMweb destination
type ServerConfig struct {
	URL      string            `json:"url"`
	AuthType AuthType          `json:"authType"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Token    string            `json:"token,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}

// Validate checks the URL and auth combination
func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return ConfigError("server url is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ConfigError("server url %q must be an absolute http(s) url", s.URL)
	}
	switch s.AuthType {
	case "", AuthNone:
	case AuthBasic:
		if s.Username == "" {
			return ConfigError("basic auth requires a username")
		}
	case AuthBearer:
		if s.Token == "" {
			return ConfigError("bearer auth requires a token")
		}
	default:
		return ConfigError("unknown auth type %q", s.AuthType)
	}
	return nil
}

// BaseURL returns the URL without trailing slashes
func (s ServerConfig) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(s.URL), "/")
}

// Key identifies the server configuration for adapter reuse
func (s ServerConfig) Key() string {
	parts := []string{s.BaseURL(), string(s.AuthType), s.Username, s.Password, s.Token, s.Timeout.String()}
	names := make([]string, 0, len(s.Headers))
	for name := range s.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+s.Headers[name])
	}
	return strings.Join(parts, "|")
}

// ConnectionStatus represents the status of a DICOMweb connection
type ConnectionStatus struct {
	IsConnected  bool      `json:"is_connected"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
}
