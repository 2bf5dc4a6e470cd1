package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Collection names used by the relister
const (
	CollectionTrades   = "trades"
	CollectionSold     = "sold"
	CollectionServers  = "servers"
	CollectionTokens   = "tokens"
	CollectionAccounts = "accounts"
	CollectionConfig   = "config"
)

// Store is an append-only document store grouped in named collections
type Store interface {
	Create(ctx context.Context, collection string, doc Document) error
	Read(ctx context.Context, collection string, filter Document) ([]Document, error)
	Close() error
}

func NewStorage(storageType string, path string) (Store, error) {
	switch storageType {
	case "file":
		return NewFileStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	case "redis":
		return NewRedisStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// FileStorage keeps every collection in one JSON file
type FileStorage struct {
	path string

	mu          sync.RWMutex
	collections map[string][]Document
}

func NewFileStorage(path string) (*FileStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f := &FileStorage{path: path, collections: make(map[string][]Document)}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.collections); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
	}
	return f, nil
}

func (f *FileStorage) Create(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.collections[collection] = append(f.collections[collection], doc.normalized())
	if err := f.flush(); err != nil {
		docs := f.collections[collection]
		f.collections[collection] = docs[:len(docs)-1]
		return err
	}
	return nil
}

func (f *FileStorage) Read(ctx context.Context, collection string, filter Document) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Document, 0)
	for _, doc := range f.collections[collection] {
		if doc.Matches(filter) {
			out = append(out, doc.clone())
		}
	}
	return out, nil
}

// flush rewrites the file atomically; callers hold mu
func (f *FileStorage) flush() error {
	data, err := json.MarshalIndent(f.collections, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (f *FileStorage) Close() error {
	return nil
}
