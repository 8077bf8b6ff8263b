// Package image moves photographs and generated images between disk and
// inline payloads.
package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manash/zenspace/internal/security"
	"github.com/manash/zenspace/pkg/media"
)

var ErrNotImage = errors.New("file is not an image")

// Load reads a photograph for a wall slot. It returns the file's base name
// and its raw bytes.
func Load(path string) (string, []byte, error) {
	if _, err := security.ValidateImageFile(path, 0); err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if mt := media.DetectMIME(data); !strings.HasPrefix(mt, "image/") {
		return "", nil, fmt.Errorf("%w: %s is %s", ErrNotImage, path, mt)
	}
	return filepath.Base(path), data, nil
}

type Saver struct {
	now func() time.Time
}

func NewSaver() *Saver {
	return &Saver{now: time.Now}
}

// Save decodes payload and writes it to path. When path has no extension,
// one matching the payload's MIME type is appended. The written path is
// returned.
func (s *Saver) Save(payload, path string) (string, error) {
	_, data, err := media.DecodeBytes(payload)
	if err != nil {
		return "", err
	}
	if filepath.Ext(path) == "" {
		path += media.Extension(payload)
	}

	if err := s.ensureDir(path); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// SaveIn writes payload into dir under a generated name for kind, such as
// "aerial" or "north-edit".
func (s *Saver) SaveIn(dir, kind, payload string) (string, error) {
	path, err := security.SafeJoin(dir, GenerateFilename(kind, s.now()))
	if err != nil {
		return "", err
	}
	return s.Save(payload, path)
}

func (s *Saver) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GenerateFilename returns an extensionless name like aerial-20240309-140507.
func GenerateFilename(kind string, t time.Time) string {
	return fmt.Sprintf("%s-%s", security.SanitizeFilename(kind), t.Format("20060102-150405"))
}
