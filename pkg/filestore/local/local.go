package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Store keeps objects on the local filesystem. Meant for development; signed
// URLs are plain paths under the configured base URL and ignore expiry.
type Store struct {
	root    string
	baseURL string
}

func New(root, baseURL string, debug bool) *Store {
	return &Store{root: root, baseURL: baseURL}
}

func (s *Store) SignURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	if _, err := os.Stat(filepath.Join(s.root, name)); err != nil {
		return "", fmt.Errorf("local: couldn't stat %q: %w", name, err)
	}
	return fmt.Sprintf("%s/%s", s.baseURL, name), nil
}

func (s *Store) Upload(ctx context.Context, name, contentType string, body io.Reader) error {
	dst := filepath.Join(s.root, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("local: couldn't create folder for %q: %w", name, err)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("local: couldn't create %q: %w", dst, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("local: couldn't write %q: %w", dst, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(s.root, name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("local: couldn't delete %q: %w", name, err)
	}
	return nil
}
