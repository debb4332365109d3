package synclog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// FileLog keeps one JSON document per subject (dir/<subject>.json) and the
// audio of each record under dir/<subject>/. Every mutation rewrites the
// document through a temp file and rename while holding a file lock, so
// several processes may share a directory.
type FileLog struct {
	dir string
	mu  sync.Mutex
}

var _ Log = (*FileLog)(nil)

// OpenFileLog prepares dir for use.
func OpenFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sync log directory: %w", err)
	}
	return &FileLog{dir: dir}, nil
}

// Close is a no-op; FileLog holds no open handles between calls.
func (l *FileLog) Close() error { return nil }

// Append adds rec to the subject's document.
func (l *FileLog) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec); err != nil {
		return err
	}

	audioPath := l.audioPath(rec.SubjectID, rec.ID, rec.FileName)
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	if err := writeFileAtomic(audioPath, rec.Audio); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	rec.AudioURL = (&url.URL{Scheme: "file", Path: audioPath}).String()

	err := l.update(ctx, rec.SubjectID, func(records []Record) ([]Record, error) {
		stored := *rec
		stored.Audio = nil
		return append(records, stored), nil
	})
	if err != nil {
		_ = os.Remove(audioPath)
		return err
	}
	return nil
}

// List returns the subject's records without audio.
func (l *FileLog) List(ctx context.Context, subjectID string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock := flock.New(l.docPath(subjectID) + ".lock")
	if _, err := lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return nil, fmt.Errorf("lock sync log: %w", err)
	}
	defer lock.Unlock()

	return l.read(subjectID)
}

// ListUnsynced returns unsynced records with their audio loaded.
func (l *FileLog) ListUnsynced(ctx context.Context, subjectID string) ([]Record, error) {
	records, err := l.List(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var unsynced []Record
	for _, rec := range records {
		if rec.IsSynced {
			continue
		}
		audio, err := os.ReadFile(l.audioPath(rec.SubjectID, rec.ID, rec.FileName))
		if err != nil {
			return nil, fmt.Errorf("read audio for %s: %w", rec.ID, err)
		}
		rec.Audio = audio
		unsynced = append(unsynced, rec)
	}
	return unsynced, nil
}

// MarkSynced flips the record's sync flag.
func (l *FileLog) MarkSynced(ctx context.Context, subjectID, id string) error {
	return l.update(ctx, subjectID, func(records []Record) ([]Record, error) {
		for i := range records {
			if records[i].ID == id {
				records[i].IsSynced = true
				return records, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// Remove deletes the record and its audio file.
func (l *FileLog) Remove(ctx context.Context, subjectID, id string) error {
	var removed *Record
	err := l.update(ctx, subjectID, func(records []Record) ([]Record, error) {
		for i := range records {
			if records[i].ID == id {
				rec := records[i]
				removed = &rec
				return append(records[:i], records[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return err
	}
	if err := os.Remove(l.audioPath(subjectID, removed.ID, removed.FileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove audio: %w", err)
	}
	return nil
}

// Subjects lists subjects that have a document in the directory.
func (l *FileLog) Subjects(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read sync log directory: %w", err)
	}
	var subjects []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		subjects = append(subjects, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(subjects)
	return subjects, nil
}

func (l *FileLog) update(ctx context.Context, subjectID string, fn func([]Record) ([]Record, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock := flock.New(l.docPath(subjectID) + ".lock")
	if _, err := lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("lock sync log: %w", err)
	}
	defer lock.Unlock()

	records, err := l.read(subjectID)
	if err != nil {
		return err
	}
	records, err = fn(records)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync log: %w", err)
	}
	if err := writeFileAtomic(l.docPath(subjectID), data); err != nil {
		return fmt.Errorf("write sync log: %w", err)
	}
	return nil
}

func (l *FileLog) read(subjectID string) ([]Record, error) {
	data, err := os.ReadFile(l.docPath(subjectID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync log: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse sync log %s: %w", l.docPath(subjectID), err)
	}
	return records, nil
}

func (l *FileLog) docPath(subjectID string) string {
	return filepath.Join(l.dir, subjectID+".json")
}

func (l *FileLog) audioPath(subjectID, id, fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".bin"
	}
	return filepath.Join(l.dir, subjectID, id+ext)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
