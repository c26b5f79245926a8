package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is absent from a BinaryStore
var ErrNotFound = errors.New("storage: key not found")

// Usage reports bytes used and the quota available to a BinaryStore.
// Quota is 0 when the backend does not expose one.
type Usage struct {
	Used  int64 `json:"used"`
	Quota int64 `json:"quota"`
}

// BinaryStore is the bulk tier holding DICOM payloads keyed by file id
type BinaryStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) error
	UsageInfo(ctx context.Context) (Usage, error)
}

// MetadataStore is the small tier holding JSON documents (session index,
// server config, anonymization policy). Load of an absent key returns nil, nil.
type MetadataStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context, key string) error
}

// Metadata keys
const (
	KeySession      = "session"
	KeyServerConfig = "server-config"
	KeyPolicy       = "anonymization-policy"
)
