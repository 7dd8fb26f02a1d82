// Package storage keeps uploaded truck and plate photos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/welldanyogia/steel-scrap-yard/internal/config"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Store is a flat key/value blob store for uploaded images
type Store interface {
	// Put writes data under key, replacing any existing object
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns a location a browser can load the object from
	URL(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

// New builds the store selected by cfg.Driver
func New(cfg *config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		s, err := NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// tempPrefix names in-flight local writes; no object key may start with it
const tempPrefix = ".upload-"

// CleanKey reduces a client-supplied filename to a safe flat key
func CleanKey(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	key := path.Base(name)
	if key == "." || key == ".." || key == "/" || key == "" {
		return "", ErrInvalidKey
	}
	if strings.ContainsAny(key, "\x00") || strings.HasPrefix(key, tempPrefix) {
		return "", ErrInvalidKey
	}
	return key, nil
}
