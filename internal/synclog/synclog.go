// Package synclog is the append-only local record of captured samples and
// their sync state. Two media are provided: an SQLite database and a
// directory of per-subject JSON files. Both satisfy Log.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/voicecollect/internal/filename"
)

// ErrNotFound is returned when a record id is not present in the log.
var ErrNotFound = errors.New("sync record not found")

// Record is the persisted form of a captured sample.
type Record struct {
	ID         string    `json:"id" yaml:"id"`
	SubjectID  string    `json:"subject_id" yaml:"subject_id"`
	Item       string    `json:"item" yaml:"item"`
	Repetition int       `json:"repetition" yaml:"repetition"`
	FileName   string    `json:"file_name" yaml:"file_name"`
	AudioURL   string    `json:"audio_url" yaml:"audio_url"`
	Size       int64     `json:"size" yaml:"size"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	IsSynced   bool      `json:"is_synced" yaml:"is_synced"`

	// Audio holds the sample bytes. It is populated on Append and by
	// ListUnsynced, and left empty by List.
	Audio []byte `json:"-" yaml:"-"`
}

// Log is the capability set the upload queue needs from durable storage.
type Log interface {
	// Append persists rec before returning. An empty ID is assigned.
	Append(ctx context.Context, rec *Record) error
	// List returns every record of a subject in append order, without audio.
	List(ctx context.Context, subjectID string) ([]Record, error)
	// ListUnsynced returns the unsynced records of a subject in append
	// order, with audio.
	ListUnsynced(ctx context.Context, subjectID string) ([]Record, error)
	// MarkSynced flips a record to synced. Unknown ids return ErrNotFound.
	MarkSynced(ctx context.Context, subjectID, id string) error
	// Remove deletes a record and its audio. Unknown ids return ErrNotFound.
	Remove(ctx context.Context, subjectID, id string) error
	// Subjects lists every subject id with at least one record.
	Subjects(ctx context.Context) ([]string, error)
	Close() error
}

// Backend names a Log medium.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// Open creates a Log of the given medium rooted at dir.
func Open(backend Backend, dir string) (Log, error) {
	switch Backend(strings.ToLower(string(backend))) {
	case BackendSQLite, "":
		return OpenSQLite(dir)
	case BackendFile:
		return OpenFileLog(dir)
	default:
		return nil, fmt.Errorf("unknown sync log backend %q (valid: sqlite, file)", backend)
	}
}

func prepare(rec *Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if !filename.ValidSubjectID(rec.SubjectID) {
		return fmt.Errorf("invalid subject id %q", rec.SubjectID)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Size = int64(len(rec.Audio))
	return nil
}
