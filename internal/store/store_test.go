package store

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/voicecollect/internal/filename"
)

func newTestStore(t *testing.T, maxSize int64) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/uploads", maxSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, fs
}

func fileCount(t *testing.T, fs afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/uploads")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	return len(entries)
}

func TestNewCreatesDirectory(t *testing.T) {
	_, fs := newTestStore(t, 1024)
	if ok, _ := afero.DirExists(fs, "/uploads"); !ok {
		t.Error("Expected upload directory to be created")
	}
}

func TestSaveAndOverwrite(t *testing.T) {
	s, fs := newTestStore(t, 1024)

	n, err := s.Save("42_1A.webm", "audio/webm", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 bytes, got %d", n)
	}

	if _, err := s.Save("42_1A.webm", "audio/webm", strings.NewReader("second")); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	data, err := afero.ReadFile(fs, "/uploads/42_1A.webm")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected last write to win, got %q", data)
	}
	if fileCount(t, fs) != 1 {
		t.Errorf("Expected no temp files left, got %d entries", fileCount(t, fs))
	}
}

func TestSaveRejections(t *testing.T) {
	cases := []struct {
		name        string
		file        string
		contentType string
		body        string
		want        error
	}{
		{"bad extension", "42_1A.png", "image/png", "x", filename.ErrInvalidFilename},
		{"traversal", "../42_1A.webm", "audio/webm", "x", filename.ErrInvalidFilename},
		{"bad pattern", "abc.webm", "audio/webm", "x", filename.ErrInvalidFilename},
		{"non audio mime", "42_1A.webm", "video/webm", "x", ErrUnsupportedMediaType},
		{"too large", "42_1A.webm", "audio/webm", strings.Repeat("x", 17), ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, fs := newTestStore(t, 16)
			_, err := s.Save(tc.file, tc.contentType, strings.NewReader(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Expected %v, got %v", tc.want, err)
			}
			if fileCount(t, fs) != 0 {
				t.Error("Rejected upload must not leave a file")
			}
		})
	}
}

func TestSaveAtLimit(t *testing.T) {
	s, _ := newTestStore(t, 16)
	if _, err := s.Save("42_1A.wav", "audio/wav", strings.NewReader(strings.Repeat("x", 16))); err != nil {
		t.Errorf("Expected file at the limit to be accepted: %v", err)
	}
}

func TestListBySubject(t *testing.T) {
	s, fs := newTestStore(t, 1024)
	for _, name := range []string{"42_1B.webm", "42_1A.webm", "7_1A.webm", "420_1A.webm"} {
		if _, err := s.Save(name, "audio/webm", strings.NewReader("x")); err != nil {
			t.Fatalf("Save %s failed: %v", name, err)
		}
	}
	// Stray files never surface
	afero.WriteFile(fs, "/uploads/42_notes.txt", []byte("x"), 0o644)

	names, err := s.List("42")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if strings.Join(names, ",") != "42_1A.webm,42_1B.webm" {
		t.Errorf("Unexpected listing: %v", names)
	}

	empty, err := s.List("99")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil listing, got %v (%v)", empty, err)
	}

	if _, err := s.List("4a"); !errors.Is(err, ErrInvalidSubjectID) {
		t.Errorf("Expected ErrInvalidSubjectID, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, fs := newTestStore(t, 1024)
	s.Save("42_1A.webm", "audio/webm", strings.NewReader("x"))

	if err := s.Delete("42_1A.webm"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("42_1A.webm"); err != nil {
		t.Errorf("Second delete should succeed, got %v", err)
	}
	if fileCount(t, fs) != 0 {
		t.Error("Expected file to be gone")
	}
	if err := s.Delete("../etc/passwd"); !errors.Is(err, filename.ErrInvalidFilename) {
		t.Errorf("Expected ErrInvalidFilename, got %v", err)
	}
}

func TestOpenAndPath(t *testing.T) {
	s, _ := newTestStore(t, 1024)
	s.Save("42_2Done.wav", "audio/wav", strings.NewReader("pcm"))

	f, err := s.Open("42_2Done.wav")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "pcm" {
		t.Errorf("Unexpected content %q", data)
	}

	if _, err := s.Path("42_3Done.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveFileMode(t *testing.T) {
	s, err := NewOS(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewOS failed: %v", err)
	}
	if _, err := s.Save("42_1A.webm", "audio/webm", strings.NewReader("take")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	path, err := s.Path("42_1A.webm")
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != fileMode {
		t.Errorf("Expected mode %o, got %o", fileMode, perm)
	}
}
