package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// dirStore keeps objects as plain files so CI can upload the directory as a build artifact.
// Content type and metadata live in a "<name>.meta.json" sidecar.
type dirStore struct {
	root       string
	maxGetSize int64
}

const metaSuffix = ".meta.json"

type dirMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newDirStore(dir, prefix string, maxGet int64) (Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: dir is required", ErrInvalidConfig)
	}
	root := dir
	if prefix != "" {
		root = filepath.Join(dir, filepath.FromSlash(prefix))
	}
	return &dirStore{root: root, maxGetSize: maxGet}, nil
}

func (d *dirStore) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

func (d *dirStore) Put(_ context.Context, key string, payload []byte, opts PutOptions) error {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return err
	}
	if strings.HasSuffix(logicalKey, metaSuffix) {
		return fmt.Errorf("%w: %s suffix is reserved", ErrInvalidKey, metaSuffix)
	}
	p := d.path(logicalKey)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("blobstore/dir: put %q: %w", logicalKey, err)
	}
	if err := writeFileAtomic(p, payload); err != nil {
		return fmt.Errorf("blobstore/dir: put %q: %w", logicalKey, err)
	}
	meta := dirMeta{ContentType: strings.TrimSpace(opts.ContentType), Metadata: cloneMetadata(opts.Metadata)}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(p+metaSuffix, raw); err != nil {
		return fmt.Errorf("blobstore/dir: put %q metadata: %w", logicalKey, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (d *dirStore) Get(_ context.Context, key string) (Object, error) {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return Object{}, err
	}
	p := d.path(logicalKey)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logicalKey)
		}
		return Object{}, fmt.Errorf("blobstore/dir: get %q: %w", logicalKey, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("blobstore/dir: get %q: %w", logicalKey, err)
	}
	data, err := io.ReadAll(io.LimitReader(f, d.maxGetSize+1))
	if err != nil {
		return Object{}, fmt.Errorf("blobstore/dir: read %q: %w", logicalKey, err)
	}
	if int64(len(data)) > d.maxGetSize {
		return Object{}, fmt.Errorf("%w: key %q exceeds max %d bytes", ErrTooLarge, logicalKey, d.maxGetSize)
	}
	obj := Object{Key: logicalKey, Data: data, LastModified: info.ModTime().UTC()}
	if raw, err := os.ReadFile(p + metaSuffix); err == nil {
		var meta dirMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return Object{}, fmt.Errorf("blobstore/dir: metadata %q: %w", logicalKey, err)
		}
		obj.ContentType = meta.ContentType
		obj.Metadata = meta.Metadata
	}
	return obj, nil
}

func (d *dirStore) Exists(_ context.Context, key string) (bool, error) {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(d.path(logicalKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore/dir: stat %q: %w", logicalKey, err)
	}
	return !info.IsDir(), nil
}

func (d *dirStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix, err := normalizeListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == d.root {
				return filepath.SkipDir
			}
			return err
		}
		if e.IsDir() || strings.HasSuffix(p, metaSuffix) || strings.HasPrefix(e.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore/dir: list %q: %w", prefix, err)
	}
	return sorted(keys), nil
}
