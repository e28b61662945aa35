package state

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk layout: namespace -> key -> base64 value
type fileDocument struct {
	Version    int                          `yaml:"version"`
	Namespaces map[string]map[string]string `yaml:"namespaces"`
}

// FileStore persists all keys in a single YAML document.
// Every Set rewrites the document through a temp file and rename.
type FileStore struct {
	mu     sync.Mutex
	path   string
	doc    fileDocument
	closed bool
}

// NewFileStore opens or creates the store at path
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}

	s := &FileStore{
		path: path,
		doc:  fileDocument{Version: 1, Namespaces: map[string]map[string]string{}},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if s.doc.Namespaces == nil {
		s.doc.Namespaces = map[string]map[string]string{}
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	encoded, ok := s.doc.Namespaces[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	v, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return v, nil
}

func (s *FileStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ns, ok := s.doc.Namespaces[namespace]
	if !ok {
		ns = map[string]string{}
		s.doc.Namespaces[namespace] = ns
	}
	prev, existed := ns[key]
	ns[key] = base64.StdEncoding.EncodeToString(value)

	if err := s.flush(); err != nil {
		// keep memory consistent with disk
		if existed {
			ns[key] = prev
		} else {
			delete(ns, key)
		}
		return err
	}
	return nil
}

// flush writes the document atomically
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("commit state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
