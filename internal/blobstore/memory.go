package blobstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]Object
}

func newMemoryStore(prefix string) Store {
	return &memoryStore{prefix: prefix, objects: make(map[string]Object)}
}

func (m *memoryStore) Put(_ context.Context, key string, payload []byte, opts PutOptions) error {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[joinPrefix(m.prefix, logicalKey)] = Object{
		Key:          logicalKey,
		Data:         cloneBytes(payload),
		ContentType:  strings.TrimSpace(opts.ContentType),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[joinPrefix(m.prefix, logicalKey)]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logicalKey)
	}
	obj.Data = cloneBytes(obj.Data)
	obj.Metadata = cloneMetadata(obj.Metadata)
	return obj, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	logicalKey, err := normalizeLogicalKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[joinPrefix(m.prefix, logicalKey)]
	m.mu.RUnlock()
	return ok, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix, err := normalizeListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for full := range m.objects {
		key, ok := stripPrefix(m.prefix, full)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return sorted(keys), nil
}
