// Package imagestore owns product image files: validation, normalization and
// placement at a path derived from the product id.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format, allowed: .jpg, .jpeg, .png, .webp")
	ErrMissingFile       = errors.New("image file is required")
	ErrInvalidURL        = errors.New("image url does not belong to the static root")
)

var allowedExtensions = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".png":  ".png",
	".webp": ".webp",
}

var allowedMIMETypes = []string{"image/jpeg", "image/png", "image/webp"}

// Upload is an image received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// Options controls where and how images are written.
type Options struct {
	// Dir is the root directory inside the filesystem.
	Dir string
	// PublicPrefix is the URL path the directory is served under.
	PublicPrefix string
	Optimize     bool
	MaxSide      int
	Quality      int
}

// Store persists product images.
type Store interface {
	Validate(upload *Upload) error
	Save(ctx context.Context, id uuid.UUID, upload *Upload) (string, error)
	Replace(ctx context.Context, id uuid.UUID, upload *Upload) (string, error)
	Delete(ctx context.Context, url string) error
}

// FileStore writes images to an afero filesystem.
type FileStore struct {
	fs     afero.Fs
	opts   Options
	logger *zap.Logger
}

// New creates a FileStore rooted at opts.Dir.
func New(fs afero.Fs, opts Options, logger *zap.Logger) (*FileStore, error) {
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/static"
	}
	opts.PublicPrefix = "/" + strings.Trim(opts.PublicPrefix, "/")

	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	return &FileStore{fs: fs, opts: opts, logger: logger}, nil
}

// Path returns the file path for a product image.
func (s *FileStore) Path(id uuid.UUID, ext string) string {
	return filepath.Join(s.opts.Dir, id.String()+ext)
}

// URL returns the public URL for a product image.
func (s *FileStore) URL(id uuid.UUID, ext string) string {
	return path.Join(s.opts.PublicPrefix, id.String()+ext)
}

// PathFromURL maps a public URL back to its file path. Only bare file names
// under the public prefix are accepted.
func (s *FileStore) PathFromURL(url string) (string, error) {
	prefix := s.opts.PublicPrefix + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", ErrInvalidURL
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || name != path.Base(name) || name == ".." {
		return "", ErrInvalidURL
	}
	return filepath.Join(s.opts.Dir, name), nil
}

// Validate checks that upload is present and is one of the accepted formats,
// by extension and by content.
func (s *FileStore) Validate(upload *Upload) error {
	if upload == nil || strings.TrimSpace(upload.Filename) == "" || len(upload.Data) == 0 {
		return ErrMissingFile
	}

	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(upload.Filename))]; !ok {
		return ErrUnsupportedFormat
	}

	if detected := mimetype.Detect(upload.Data); !mimetype.EqualsAny(detected.String(), allowedMIMETypes...) {
		return ErrUnsupportedFormat
	}

	return nil
}

// Save writes the image for a new product and returns its public URL.
func (s *FileStore) Save(ctx context.Context, id uuid.UUID, upload *Upload) (string, error) {
	url, err := s.write(ctx, id, upload)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Image stored", zap.String("product_id", id.String()), zap.String("url", url))
	return url, nil
}

// Replace overwrites the image of an existing product. The derived path is
// the same as Save's for the same normalized extension.
func (s *FileStore) Replace(ctx context.Context, id uuid.UUID, upload *Upload) (string, error) {
	url, err := s.write(ctx, id, upload)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Image replaced", zap.String("product_id", id.String()), zap.String("url", url))
	return url, nil
}

// Delete removes the file behind url. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.PathFromURL(url)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	s.logger.Debug("Image deleted", zap.String("url", url))
	return nil
}

func (s *FileStore) write(ctx context.Context, id uuid.UUID, upload *Upload) (string, error) {
	if err := s.Validate(upload); err != nil {
		return "", err
	}

	data, ext, err := s.normalize(upload)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.writeAtomic(s.Path(id, ext), data); err != nil {
		return "", err
	}

	return s.URL(id, ext), nil
}

func (s *FileStore) normalize(upload *Upload) ([]byte, string, error) {
	if s.opts.Optimize {
		data, err := optimize(upload.Data, s.opts.MaxSide, s.opts.Quality)
		if err != nil {
			return nil, "", err
		}
		return data, optimizedExtension, nil
	}

	return upload.Data, allowedExtensions[strings.ToLower(filepath.Ext(upload.Filename))], nil
}

// writeAtomic writes into a temp file in the same directory and renames it
// over the destination, so a failed write leaves nothing behind.
func (s *FileStore) writeAtomic(dest string, data []byte) error {
	tmp, err := afero.TempFile(s.fs, s.opts.Dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp image file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write image: %w", err)
	}

	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close image file: %w", err)
	}

	if err := s.fs.Rename(tmpName, dest); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to move image into place: %w", err)
	}

	return nil
}
