package local

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

type Store struct {
	root  string
	debug bool
}

// New returns a store that writes files under root.
func New(root string, debug bool) *Store {
	if root == "" {
		root = "downloads"
	}
	return &Store{root: root, debug: debug}
}

// Put writes the content to root/name and returns its absolute path.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("local: couldn't create dir %q: %w", s.root, err)
	}
	dst := filepath.Join(s.root, name)
	tmp, err := os.CreateTemp(s.root, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("local: couldn't create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("local: couldn't write %q: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local: couldn't close %q: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("local: couldn't rename to %q: %w", dst, err)
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	if s.debug {
		log.Println("local: saved", abs, contentType)
	}
	return abs, nil
}
