// Package blobstore persists run reports under stable keys such as runs/<run-id>/report.json.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"
	DriverDir    = "dir"

	defaultMaxGetSize int64 = 16 << 20
)

var (
	ErrInvalidConfig = errors.New("blobstore: invalid config")
	ErrInvalidKey    = errors.New("blobstore: invalid key")
	ErrNotFound      = errors.New("blobstore: not found")
	ErrTooLarge      = errors.New("blobstore: object too large")
)

type Store interface {
	Put(ctx context.Context, key string, payload []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the logical keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 16 MiB when <= 0.
	MaxGetSize int64

	Bucket   string
	S3Client S3Client

	// Dir is the root directory of the dir driver.
	Dir string
}

func New(cfg Config) (Store, error) {
	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}
	prefix := normalizePrefix(cfg.Prefix)
	switch normalizeDriver(cfg.Driver) {
	case DriverMemory:
		return newMemoryStore(prefix), nil
	case DriverS3:
		return newS3Store(cfg, prefix, maxGet)
	case DriverDir:
		return newDirStore(cfg.Dir, prefix, maxGet)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverS3
	}
	return v
}

func normalizeLogicalKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: key has an empty or relative segment", ErrInvalidKey)
		}
	}
	return key, nil
}

// normalizeListPrefix accepts an empty prefix, which lists everything, and keeps a trailing
// slash so "runs/" does not match "runs-old/".
func normalizeListPrefix(prefix string) (string, error) {
	trimmed := strings.TrimSuffix(prefix, "/")
	if trimmed == "" {
		return "", nil
	}
	key, err := normalizeLogicalKey(trimmed)
	if err != nil {
		return "", err
	}
	if trimmed != prefix {
		key += "/"
	}
	return key, nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func stripPrefix(prefix, fullKey string) (string, bool) {
	if prefix == "" {
		return fullKey, true
	}
	return strings.CutPrefix(fullKey, prefix+"/")
}

func cloneBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

func cloneMetadata(v map[string]string) map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(val)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sorted(keys []string) []string {
	sort.Strings(keys)
	return keys
}
