// File: internal/storage/file.go

// Package storage persists the user's provider settings. Two backends honor
// the same flat key space: a JSON file for single-machine use and Postgres
// for shared deployments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// FileStore keeps settings in one JSON file. Reads hit the in-memory viper
// state; writes rewrite the file so an external edit between runs wins.
type FileStore struct {
	logger *zap.Logger
	path   string

	mu sync.Mutex
	v  *viper.Viper
}

var _ schemas.Storage = (*FileStore)(nil)

// NewFileStore opens (or prepares to create) the settings file at path.
func NewFileStore(logger *zap.Logger, path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path is empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	// A missing file is an empty store; the first Set creates it.
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read settings %q: %w", path, err)
	}

	return &FileStore{
		logger: logger.Named("storage"),
		path:   path,
		v:      v,
	}, nil
}

// Get returns the stored value, or empty when the key was never written.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(key), nil
}

// Set writes one key and persists the whole file.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings %q: %w", s.path, err)
	}
	s.logger.Debug("Setting persisted", zap.String("key", key))
	return nil
}
