// Package localblob implements the domain blob interfaces on the local
// filesystem, rooted at a single directory. It lets the feature builder run
// offline against the same object keys it would use in S3.
package localblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Store reads and writes objects as files under Root. Object keys use
// forward slashes and may not escape Root.
type Store struct {
	root string
}

var _ domain.BlobStore = (*Store)(nil)

// New creates the root directory if needed and returns a Store over it.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("localblob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("localblob: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory objects are stored under.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("localblob: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Get opens the file for key. A missing file yields domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("localblob: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localblob: get %s: %w", key, err)
	}
	return f, nil
}

// List returns every regular file whose key starts with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, domain.BlobInfo{
			Path:         key,
			Size:         fi.Size(),
			ContentType:  mime.TypeByExtension(filepath.Ext(path)),
			LastModified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localblob: list prefix %s: %w", prefix, err)
	}
	return infos, nil
}

// Exists reports whether a file is stored at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("localblob: exists %s: %w", key, err)
	}
	return true, nil
}

// Put writes data to key atomically: it is staged in a temporary file in
// the target directory and renamed into place.
func (s *Store) Put(ctx context.Context, key string, data io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("localblob: put %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("localblob: put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("localblob: put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localblob: put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("localblob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart is Put; the filesystem has no part size.
func (s *Store) PutMultipart(ctx context.Context, key string, data io.Reader, _ int64) error {
	return s.Put(ctx, key, data, "text/csv")
}
