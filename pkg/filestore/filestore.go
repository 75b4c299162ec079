package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KrishKoria/HarmonAI/pkg/filestore/local"
	"github.com/KrishKoria/HarmonAI/pkg/filestore/s3"
)

// Playback URLs expire one hour after issuance.
const urlExpiry = 3600 * time.Second

type fs interface {
	SignURL(ctx context.Context, name string, expiry time.Duration) (string, error)
	Upload(ctx context.Context, name, contentType string, body io.Reader) error
	Delete(ctx context.Context, name string) error
}

type Store struct {
	fs fs
}

// SignURL returns a time-limited URL for the stored object.
func (s *Store) SignURL(ctx context.Context, name string) (string, error) {
	return s.fs.SignURL(ctx, name, urlExpiry)
}

func (s *Store) Upload(ctx context.Context, name, contentType string, body io.Reader) error {
	return s.fs.Upload(ctx, name, contentType, body)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	return s.fs.Delete(ctx, name)
}

// New creates a file store from a type and connection string.
//   - s3: "key:secret@bucket.region" or "key:secret@bucket.region@endpoint"
//   - local: "root-folder@base-url"
func New(typ, conn string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		split := strings.Split(conn, "@")
		if len(split) != 2 && len(split) != 3 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		key := auth[0]
		secret := auth[1]
		loc := strings.SplitN(split[1], ".", 2)
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		bucket := loc[0]
		region := loc[1]
		var endpoint string
		if len(split) == 3 {
			endpoint = split[2]
		}
		candidate, err := s3.New(key, secret, region, bucket, endpoint, debug)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		split := strings.Split(conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid local connection string %q", conn)
		}
		fs = local.New(split[0], split[1], debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}
