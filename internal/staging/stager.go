// Package staging persists inbound uploads to a temporary folder for the duration of one request.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFilename is returned when an upload name reduces to nothing usable.
var ErrInvalidFilename = errors.New("invalid upload filename")

// Stager writes uploads into a single folder and removes them afterwards.
type Stager struct {
	dir string
}

// NewStager returns a stager writing into dir. The folder is created on first use.
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Dir returns the staging folder.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies r into the staging folder and returns the path of the staged file. The client
// filename is reduced to its base name and prefixed with a short random id, so the result always
// stays inside the folder and concurrent uploads with the same name do not collide.
func (s *Stager) Stage(r io.Reader, filename string) (string, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(s.dir, uuid.New().String()[:8]+"_"+name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file. A file that is already gone is not an error.
func (s *Stager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SanitizeFilename strips any directory component (either separator style) from a client-supplied
// name.
func SanitizeFilename(filename string) (string, error) {
	name := strings.ReplaceAll(filename, "\\", "/")
	name = strings.TrimSpace(name[strings.LastIndex(name, "/")+1:])
	name = strings.ReplaceAll(name, "\x00", "")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return name, nil
}
