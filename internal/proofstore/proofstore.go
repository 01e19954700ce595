// Package proofstore keeps bank-transfer proof files in a single confined directory.
package proofstore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payment-service/internal/apperror"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxSize is the largest accepted proof
const DefaultMaxSize int64 = 10 << 20

// randomBytes gives 128 bits of entropy per stored filename
const randomBytes = 16

// allowed maps accepted MIME types to the extensions that may carry them
var allowed = map[string][]string{
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
	"application/pdf": {".pdf"},
}

// canonicalExt is the extension a stored file gets for each MIME type
var canonicalExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// Stored describes a file accepted into the store
type Stored struct {
	Path string
	MIME string
	Size int64
}

// Store validates and writes proof files under dir
type Store struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// New creates the proof directory if needed and resolves it to its canonical path
func New(dir string, maxSize int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("proof directory is required")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create proof directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve proof directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve proof directory: %w", err)
	}
	return &Store{dir: resolved, maxSize: maxSize, now: time.Now}, nil
}

// Dir returns the canonical proof directory
func (s *Store) Dir() string { return s.dir }

// MaxSize returns the size limit in bytes
func (s *Store) MaxSize() int64 { return s.maxSize }

// Save validates r and writes it as <payment_id>_<unix>_<random>.<ext>
func (s *Store) Save(paymentID, originalName string, r io.Reader) (*Stored, error) {
	if paymentID == "" || strings.ContainsAny(paymentID, `/\.`) {
		return nil, apperror.New(apperror.KindValidation, "invalid payment id")
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "failed to read uploaded file")
	}
	if int64(len(data)) > s.maxSize {
		return nil, apperror.Newf(apperror.KindTooLarge, "file exceeds the %d byte limit", s.maxSize)
	}
	if len(data) == 0 {
		return nil, apperror.New(apperror.KindValidation, "file is empty")
	}

	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	exts, ok := allowed[mime]
	if !ok {
		return nil, apperror.New(apperror.KindValidation, "only JPEG, PNG and PDF files are accepted")
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !contains(exts, ext) {
		return nil, apperror.New(apperror.KindValidation, "file extension does not match its content")
	}

	token := make([]byte, randomBytes)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("failed to generate file name: %w", err)
	}
	name := fmt.Sprintf("%s_%d_%s%s", paymentID, s.now().Unix(), hex.EncodeToString(token), canonicalExt[mime])

	path, err := s.confine(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create proof file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write proof file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close proof file: %w", err)
	}

	return &Stored{Path: path, MIME: mime, Size: int64(len(data))}, nil
}

// Open returns a reader for a stored path after re-checking confinement
func (s *Store) Open(storedPath string) (*os.File, error) {
	rel, err := filepath.Rel(s.dir, storedPath)
	if err != nil || filepath.IsAbs(rel) {
		return nil, apperror.New(apperror.KindForbidden, "proof path outside the proof directory")
	}
	path, err := s.confine(rel)
	if err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.New(apperror.KindNotFound, "proof file not found")
		}
		return nil, fmt.Errorf("failed to resolve proof file: %w", err)
	}
	if !s.within(resolved) {
		return nil, apperror.New(apperror.KindForbidden, "proof path outside the proof directory")
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open proof file: %w", err)
	}
	return f, nil
}

// confine joins a relative name onto dir and rejects anything that escapes it
func (s *Store) confine(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", apperror.New(apperror.KindForbidden, "proof path outside the proof directory")
	}
	path := filepath.Join(s.dir, name)
	if !s.within(path) {
		return "", apperror.New(apperror.KindForbidden, "proof path outside the proof directory")
	}
	return path, nil
}

// within reports whether path is a strict descendant of dir
func (s *Store) within(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
