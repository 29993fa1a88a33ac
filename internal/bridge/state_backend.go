package bridge

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type JSONFileStateBackend struct {
	mu   sync.Mutex
	path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (json.RawMessage, error) {
	if b == nil || b.path == "" {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (b *JSONFileStateBackend) Save(snapshot json.RawMessage) error {
	if b == nil || b.path == "" {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot json.RawMessage
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (json.RawMessage, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return append(json.RawMessage(nil), b.snapshot...), nil
}

func (b *InMemoryStateBackend) Save(snapshot json.RawMessage) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = append(json.RawMessage(nil), snapshot...)
	return nil
}
