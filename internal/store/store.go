// Package store is the server-side directory of recordings.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/voicecollect/internal/filename"
)

var (
	ErrInvalidSubjectID     = &Error{msg: "invalid student ID", kind: "validation"}
	ErrUnsupportedMediaType = &Error{msg: "only audio files are allowed", kind: "validation"}
	ErrPayloadTooLarge      = &Error{msg: "file too large", kind: "validation"}
	ErrNotFound             = &Error{msg: "recording not found", kind: "not_found"}
)

// Error is a store rejection with a classification.
type Error struct {
	msg  string
	kind string
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) ErrorKind() string { return e.kind }

// Store keeps recordings as flat files in one directory. Names are always
// checked against the filename contract before the filesystem is touched.
type Store struct {
	fs      afero.Fs
	dir     string
	maxSize int64
}

const fileMode = 0o644

// New creates the directory if needed. maxSize bounds a single file.
func New(fs afero.Fs, dir string, maxSize int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory required")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("max file size must be positive, got %d", maxSize)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{fs: fs, dir: dir, maxSize: maxSize}, nil
}

// NewOS is New on the host filesystem.
func NewOS(dir string, maxSize int64) (*Store, error) {
	return New(afero.NewOsFs(), dir, maxSize)
}

// Dir returns the recordings directory.
func (s *Store) Dir() string { return s.dir }

// MaxSize returns the per-file limit in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Save writes r under name, replacing any existing file of that name. The
// data is staged in a temp file and renamed into place.
func (s *Store) Save(name, contentType string, r io.Reader) (int64, error) {
	if err := filename.Validate(name); err != nil {
		return 0, err
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxSize {
		err = fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, s.maxSize)
	}
	if err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, err
	}

	// temp files are created private; stored recordings are world-readable
	if err := s.fs.Chmod(tmpName, fileMode); err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("store %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, s.path(name)); err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("store %s: %w", name, err)
	}
	slog.Debug("Stored recording", "file_name", name, "size", n)
	return n, nil
}

// List returns the subject's recordings sorted by name.
func (s *Store) List(subjectID string) ([]string, error) {
	if !filename.ValidSubjectID(subjectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubjectID, subjectID)
	}

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload directory: %w", err)
	}

	prefix := filename.SubjectPrefix(subjectID)
	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if filename.Validate(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name. A missing file is not an error.
func (s *Store) Delete(name string) error {
	if err := filename.Validate(name); err != nil {
		return err
	}
	err := s.fs.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("Delete of missing recording", "file_name", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Path returns the on-disk path of an existing recording.
func (s *Store) Path(name string) (string, error) {
	if err := filename.Validate(name); err != nil {
		return "", err
	}
	p := s.path(name)
	if _, err := s.fs.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return p, nil
}

// Open opens a stored recording for reading.
func (s *Store) Open(name string) (afero.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(p)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}
