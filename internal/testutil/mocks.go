// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/pubsub"
	"github.com/fluxbase-eu/pagepack/internal/storage"
)

// MockStorageProvider implements storage.Provider in memory
type MockStorageProvider struct {
	mu    sync.RWMutex
	files map[string][]byte

	// HealthErr is returned by Health when set
	HealthErr error
	// OnWrite can fail individual writes
	OnWrite func(key string) error
}

// NewMockStorageProvider creates a provider seeded with files
func NewMockStorageProvider(files map[string]string) *MockStorageProvider {
	m := &MockStorageProvider{files: make(map[string][]byte, len(files))}
	for k, v := range files {
		m.files[k] = []byte(v)
	}
	return m
}

func (m *MockStorageProvider) Name() string {
	return "mock"
}

func (m *MockStorageProvider) Health(ctx context.Context) error {
	return m.HealthErr
}

func (m *MockStorageProvider) ReadFile(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MockStorageProvider) WriteFile(ctx context.Context, key string, data []byte) error {
	if m.OnWrite != nil {
		if err := m.OnWrite(key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return nil
}

func (m *MockStorageProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, key)
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			delete(m.files, k)
		}
	}
	return nil
}

func (m *MockStorageProvider) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []storage.Object
	for k, v := range m.files {
		if prefix == "" || strings.HasPrefix(k, strings.TrimSuffix(prefix, "/")+"/") {
			objects = append(objects, storage.Object{Key: k, Size: int64(len(v)), LastModified: time.Time{}})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Get returns the content of key as a string
func (m *MockStorageProvider) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[key]
	return string(data), ok
}

// MockPubSub records published messages and delivers them through a
// LocalPubSub
type MockPubSub struct {
	local *pubsub.LocalPubSub

	mu        sync.Mutex
	published []pubsub.Message

	// PublishErr is returned by Publish when set; nothing is delivered
	PublishErr error
}

// NewMockPubSub creates a new mock pub/sub
func NewMockPubSub() *MockPubSub {
	return &MockPubSub{local: pubsub.NewLocalPubSub()}
}

func (m *MockPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.mu.Lock()
	m.published = append(m.published, pubsub.Message{Channel: channel, Payload: payload})
	m.mu.Unlock()

	return m.local.Publish(ctx, channel, payload)
}

func (m *MockPubSub) Subscribe(ctx context.Context, channel string) (<-chan pubsub.Message, error) {
	return m.local.Subscribe(ctx, channel)
}

func (m *MockPubSub) Close() error {
	return m.local.Close()
}

// Published returns a copy of every message published so far
func (m *MockPubSub) Published() []pubsub.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pubsub.Message(nil), m.published...)
}
