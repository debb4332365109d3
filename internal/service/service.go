// Package service owns one subject's recording session: the sequencer
// position, the capture controller and the upload queue.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/audiolibrelab/voicecollect/internal/audio"
	"github.com/audiolibrelab/voicecollect/internal/catalog"
	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/session"
	"github.com/audiolibrelab/voicecollect/internal/synclog"
	"github.com/audiolibrelab/voicecollect/internal/upload"
)

// Service represents the recording session operations a front end drives
type Service interface {
	// Recording operations
	Record(ctx context.Context) (*Outcome, error)
	StopCapture()
	Redo(ctx context.Context) (*RedoResult, error)

	// Status operations
	Status() Snapshot
	GetLastError() string

	// Sync operations
	Resync(ctx context.Context) (upload.ResyncReport, error)
	Records(ctx context.Context) ([]synclog.Record, error)
	Wait()
}

// RecordingStatus represents the current session state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusComplete  RecordingStatus = "COMPLETE"
	StatusError     RecordingStatus = "ERROR"
)

// Capturer is the part of audio.Controller the session uses.
type Capturer interface {
	Start(ctx context.Context) (<-chan audio.Result, error)
	Stop()
	State() audio.State
}

// Outcome describes a captured and queued slot.
type Outcome struct {
	Slot     session.Slot    `json:"slot"`
	Record   *synclog.Record `json:"record"`
	Complete bool            `json:"complete"`
}

// RedoResult describes a step back.
type RedoResult struct {
	Moved     bool         `json:"moved"`
	Slot      session.Slot `json:"slot"`
	Discarded bool         `json:"discarded"`
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	SubjectID      string          `json:"subject_id"`
	Status         RecordingStatus `json:"status"`
	Current        session.Slot    `json:"current"`
	CompletedSlots int             `json:"completed_slots"`
	TotalSlots     int             `json:"total_slots"`
	Progress       float64         `json:"progress"`
	LastError      string          `json:"last_error,omitempty"`
}

// SessionService is the main Service implementation
type SessionService struct {
	subjectID string
	seq       *session.Sequencer
	capture   Capturer
	queue     *upload.Queue
	// checkpoint, if set, receives the position after every move.
	checkpoint *session.Checkpoint

	// recordMu keeps Record and Redo from interleaving, so the sequencer
	// only moves after the sample is persisted.
	recordMu sync.Mutex

	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*SessionService)(nil)

// Option configures a SessionService.
type Option func(*SessionService)

// WithCheckpoint saves the position to cp after every advance and redo.
func WithCheckpoint(cp *session.Checkpoint) Option {
	return func(s *SessionService) { s.checkpoint = cp }
}

// New creates a session for subjectID.
func New(subjectID string, seq *session.Sequencer, capture Capturer, queue *upload.Queue, opts ...Option) (*SessionService, error) {
	if !filename.ValidSubjectID(subjectID) {
		return nil, fmt.Errorf("invalid subject id %q: digits only", subjectID)
	}
	s := &SessionService{subjectID: subjectID, seq: seq, capture: capture, queue: queue}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubjectID returns the subject being recorded.
func (s *SessionService) SubjectID() string { return s.subjectID }

// Record captures the current slot, hands the sample to the queue and
// advances. Capture and persistence failures leave the position unchanged
// so the slot can be retried.
func (s *SessionService) Record(ctx context.Context) (*Outcome, error) {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	if s.seq.Complete() {
		return nil, session.ErrSessionComplete
	}
	slot := s.seq.Current()
	slog.Debug("Service.Record called", "subject_id", s.subjectID, "run", slot.Run, "item", slot.Item)
	s.clearLastError()

	result, err := s.capture.Start(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}
	res := <-result
	if res.Err != nil {
		s.setLastError(fmt.Sprintf("Recording failed: %v", res.Err))
		return nil, res.Err
	}

	rec, err := s.queue.Enqueue(ctx, upload.Sample{
		SubjectID:  s.subjectID,
		Item:       slot.Item,
		Repetition: slot.Run,
		Extension:  res.Sample.Extension,
		Audio:      res.Sample.Audio,
		CapturedAt: res.Sample.CapturedAt,
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return nil, err
	}

	done, err := s.seq.Advance()
	if err != nil {
		return nil, err
	}
	s.saveCheckpoint()
	if done {
		slog.Info("Session complete", "subject_id", s.subjectID, "slots", s.seq.Catalog().TotalSlots())
	}
	return &Outcome{Slot: slot, Record: rec, Complete: done}, nil
}

// StopCapture ends an in-progress capture early.
func (s *SessionService) StopCapture() {
	s.capture.Stop()
}

// Redo steps back one slot and discards that slot's pending sample if it
// has not been synced yet.
func (s *SessionService) Redo(ctx context.Context) (*RedoResult, error) {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	slot, moved := s.seq.Redo()
	if !moved {
		return &RedoResult{Slot: s.seq.Current()}, nil
	}

	s.saveCheckpoint()

	discarded, err := s.queue.Discard(ctx, s.subjectID, slot.Item, slot.Run)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to discard recording: %v", err))
		return nil, err
	}
	slog.Debug("Service.Redo", "subject_id", s.subjectID, "run", slot.Run, "item", slot.Item, "discarded", discarded)
	return &RedoResult{Moved: true, Slot: slot, Discarded: discarded}, nil
}

// Status returns a snapshot of the session.
func (s *SessionService) Status() Snapshot {
	cat := s.seq.Catalog()
	snap := Snapshot{
		SubjectID:      s.subjectID,
		Status:         StatusStandby,
		CompletedSlots: s.seq.CompletedSlots(),
		TotalSlots:     cat.TotalSlots(),
		Progress:       s.seq.Progress(),
		LastError:      s.GetLastError(),
	}
	if !s.seq.Complete() {
		snap.Current = s.seq.Current()
	}

	switch {
	case s.seq.Complete():
		snap.Status = StatusComplete
	case s.capture.State() != audio.StateIdle:
		snap.Status = StatusRecording
	case snap.LastError != "":
		snap.Status = StatusError
	}
	return snap
}

// Resync uploads this subject's unsynced records.
func (s *SessionService) Resync(ctx context.Context) (upload.ResyncReport, error) {
	return s.queue.Resync(ctx, s.subjectID)
}

// Records lists this subject's sync records.
func (s *SessionService) Records(ctx context.Context) ([]synclog.Record, error) {
	return s.queue.Records(ctx, s.subjectID)
}

// Wait blocks until background uploads finish.
func (s *SessionService) Wait() {
	s.queue.Wait()
}

func (s *SessionService) saveCheckpoint() {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.Save(s.seq.Position(), s.seq.Complete()); err != nil {
		slog.Warn("Failed to save session checkpoint", "subject_id", s.subjectID, "error", err)
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *SessionService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *SessionService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "subject_id", s.subjectID, "error_message", err)
}

func (s *SessionService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// ResumePosition returns the slot following the last record in records,
// which must be in append order. It is the fallback when no checkpoint
// exists; a redo that kept a synced record is only visible in the
// checkpoint. With no usable record it returns the
// first slot; after the final slot it reports done.
func ResumePosition(cat *catalog.Catalog, records []synclog.Record) (pos session.Position, done bool) {
	pos = session.Position{Run: 1}
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		idx, ok := cat.Index(rec.Item)
		if !ok || rec.Repetition < 1 || rec.Repetition > cat.Runs() {
			continue
		}
		switch {
		case idx < cat.Len()-1:
			return session.Position{Run: rec.Repetition, ItemIndex: idx + 1}, false
		case rec.Repetition < cat.Runs():
			return session.Position{Run: rec.Repetition + 1}, false
		default:
			return session.Position{Run: cat.Runs(), ItemIndex: cat.Len() - 1}, true
		}
	}
	return pos, false
}

// NormalizeSubjectID trims whitespace around an entered subject id.
func NormalizeSubjectID(id string) string {
	return strings.TrimSpace(id)
}
