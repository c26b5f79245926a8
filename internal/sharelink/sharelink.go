// Package sharelink packs a project's server configuration and
// anonymization policy into a URL query parameter and back.
package sharelink

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

// Param is the query parameter carrying the encoded project
const Param = "project"

// maxDecoded bounds the inflated JSON
const maxDecoded = 1 << 20

// ErrNoProject is returned by FromURL when the parameter is absent
var ErrNoProject = errors.New("sharelink: no project parameter")

// ProjectState is the shareable part of a session
type ProjectState struct {
	ID           string                      `json:"id,omitempty"`
	Name         string                      `json:"name,omitempty"`
	CreatedAt    *time.Time                  `json:"createdAt,omitempty"`
	ServerConfig *models.ServerConfig        `json:"serverConfig,omitempty"`
	Policy       *models.AnonymizationPolicy `json:"anonymizationConfig,omitempty"`
}

// Validate checks the embedded configuration
func (p *ProjectState) Validate() error {
	if p.ServerConfig == nil && p.Policy == nil {
		return models.ConfigError("project carries neither server config nor policy")
	}
	if p.ServerConfig != nil {
		if err := p.ServerConfig.Validate(); err != nil {
			return err
		}
	}
	if p.Policy != nil {
		if err := p.Policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Encode serializes the state as JSON, deflates it with zlib framing and
// returns unpadded base64url
func Encode(state ProjectState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode project: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("failed to compress project: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress project: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Parameters holding plain base64 JSON are
// accepted as well, padded or not, in either base64 alphabet.
func Decode(param string) (*ProjectState, error) {
	data, err := decodeBase64(strings.TrimSpace(param))
	if err != nil {
		return nil, models.ConfigError("project parameter is not base64: %v", err)
	}

	raw, err := inflate(data)
	if err != nil {
		raw = data
	}

	var state ProjectState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, models.ConfigError("project parameter is not a project: %v", err)
	}
	return &state, nil
}

// FromURL decodes the project parameter and returns the URL without it
func FromURL(u *url.URL) (*ProjectState, *url.URL, error) {
	query := u.Query()
	param := query.Get(Param)
	if param == "" {
		return nil, u, ErrNoProject
	}

	state, err := Decode(param)
	if err != nil {
		return nil, u, err
	}

	stripped := *u
	query.Del(Param)
	stripped.RawQuery = query.Encode()
	return state, &stripped, nil
}

// ToURL returns base with the encoded project set as its parameter
func ToURL(base string, state ProjectState) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", models.ConfigError("invalid base url %q: %v", base, err)
	}
	encoded, err := Encode(state)
	if err != nil {
		return "", err
	}
	query := u.Query()
	query.Set(Param, encoded)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecoded {
		return nil, fmt.Errorf("project exceeds %d bytes", maxDecoded)
	}
	return out, nil
}
