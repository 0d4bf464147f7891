package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// localStorage writes artifacts under a directory tree mirroring the object
// keys. Used in development and in deployments without R2 credentials.
type localStorage struct {
	dir string
}

func newLocal(dir string) *localStorage {
	return &localStorage{dir: dir}
}

func (l *localStorage) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	return path, nil
}

func (l *localStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.dir, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
