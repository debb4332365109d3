// Package upload keeps every captured sample in the local sync log and
// pushes it to the recordings server without holding up the session.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/synclog"
)

// Uploader sends one named sample to the remote store.
type Uploader interface {
	Upload(ctx context.Context, fileName string, audio []byte) error
}

// Level classifies a Notice.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Notice reports the outcome of a background upload. It never carries a
// failure the caller has to act on.
type Notice struct {
	Level    Level
	FileName string
	Message  string
	Err      error
}

// Sample is a captured recording handed to the queue.
type Sample struct {
	SubjectID  string
	Item       string
	Repetition int
	Extension  string
	Audio      []byte
	CapturedAt time.Time
}

// ResyncReport summarizes a resync pass.
type ResyncReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// Queue persists samples and uploads them best effort. There is no retry
// loop; unsynced records wait for Resync.
type Queue struct {
	log      synclog.Log
	uploader Uploader
	notify   func(Notice)
	online   func() bool

	// mu orders Discard against the MarkSynced of a finishing upload and
	// guards inflight.
	mu sync.Mutex
	wg sync.WaitGroup

	// inflight holds, per file name, the completion of the most recently
	// enqueued upload. Uploads of one name run in enqueue order, so a retake
	// always lands after the take it replaces.
	inflight map[string]chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotify sets the callback receiving upload outcomes.
func WithNotify(fn func(Notice)) Option {
	return func(q *Queue) { q.notify = fn }
}

// WithOnline sets a reachability check. While it reports false, uploads are
// deferred without contacting the server.
func WithOnline(fn func() bool) Option {
	return func(q *Queue) { q.online = fn }
}

// New creates a queue over log. A nil uploader keeps every sample local.
func New(log synclog.Log, uploader Uploader, opts ...Option) *Queue {
	q := &Queue{
		log:      log,
		uploader: uploader,
		notify:   func(Notice) {},
		online:   func() bool { return true },
		inflight: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue durably records s and returns once it is persisted. The upload
// continues in the background and is not cancelled with ctx.
func (q *Queue) Enqueue(ctx context.Context, s Sample) (*synclog.Record, error) {
	name, err := filename.Encode(s.SubjectID, s.Repetition, s.Item, filename.Extension(s.Extension))
	if err != nil {
		return nil, err
	}

	rec := &synclog.Record{
		SubjectID:  s.SubjectID,
		Item:       s.Item,
		Repetition: s.Repetition,
		FileName:   name,
		Audio:      s.Audio,
		Timestamp:  s.CapturedAt,
	}
	if err := q.log.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist sample %s: %w", name, err)
	}
	slog.Debug("Sample persisted", "file_name", name, "id", rec.ID, "size", rec.Size)

	q.mu.Lock()
	prev := q.inflight[name]
	done := make(chan struct{})
	q.inflight[name] = done
	q.mu.Unlock()

	q.wg.Add(1)
	go func(rec synclog.Record) {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			if q.inflight[rec.FileName] == done {
				delete(q.inflight, rec.FileName)
			}
			q.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}
		q.upload(context.WithoutCancel(ctx), rec)
	}(*rec)

	return rec, nil
}

func (q *Queue) upload(ctx context.Context, rec synclog.Record) {
	if q.uploader == nil {
		return
	}
	if !q.online() {
		slog.Debug("Server offline, upload deferred", "file_name", rec.FileName)
		q.notify(Notice{Level: LevelWarn, FileName: rec.FileName, Message: "Server offline; recording saved locally"})
		return
	}

	if err := q.uploader.Upload(ctx, rec.FileName, rec.Audio); err != nil {
		slog.Warn("Upload failed", "file_name", rec.FileName, "error", err)
		q.notify(Notice{Level: LevelWarn, FileName: rec.FileName, Message: "Upload failed; recording saved locally", Err: err})
		return
	}

	q.mu.Lock()
	err := q.log.MarkSynced(ctx, rec.SubjectID, rec.ID)
	q.mu.Unlock()
	switch {
	case errors.Is(err, synclog.ErrNotFound):
		slog.Debug("Uploaded record was discarded meanwhile", "file_name", rec.FileName)
		return
	case err != nil:
		slog.Warn("Failed to mark record synced", "file_name", rec.FileName, "error", err)
		q.notify(Notice{Level: LevelWarn, FileName: rec.FileName, Message: "Uploaded but sync state not saved", Err: err})
		return
	}
	q.notify(Notice{Level: LevelInfo, FileName: rec.FileName, Message: "Uploaded"})
}

// Discard removes the most recent unsynced record for (item, repetition).
// Synced records stay; the next capture of the slot overwrites them on the
// server. It reports whether a record was removed.
func (q *Queue) Discard(ctx context.Context, subjectID, item string, repetition int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.log.List(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Repetition != repetition || !strings.EqualFold(rec.Item, item) || rec.IsSynced {
			continue
		}
		if err := q.log.Remove(ctx, subjectID, rec.ID); err != nil {
			return false, fmt.Errorf("discard %s: %w", rec.FileName, err)
		}
		slog.Debug("Discarded unsynced sample", "file_name", rec.FileName, "id", rec.ID)
		return true, nil
	}
	return false, nil
}

// Resync uploads every unsynced record of subjectID, or of every subject
// when subjectID is empty, marking each synced in place.
func (q *Queue) Resync(ctx context.Context, subjectID string) (ResyncReport, error) {
	var report ResyncReport
	if q.uploader == nil {
		return report, errors.New("no uploader configured")
	}

	subjects := []string{subjectID}
	if subjectID == "" {
		var err error
		if subjects, err = q.log.Subjects(ctx); err != nil {
			return report, err
		}
	}

	for _, subject := range subjects {
		pending, err := q.log.ListUnsynced(ctx, subject)
		if err != nil {
			return report, err
		}
		for _, rec := range pending {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Attempted++
			if err := q.uploader.Upload(ctx, rec.FileName, rec.Audio); err != nil {
				report.Failed++
				slog.Warn("Resync upload failed", "file_name", rec.FileName, "error", err)
				q.notify(Notice{Level: LevelWarn, FileName: rec.FileName, Message: fmt.Sprintf("Upload of %s failed: %v", rec.FileName, err), Err: err})
				continue
			}
			q.mu.Lock()
			err := q.log.MarkSynced(ctx, rec.SubjectID, rec.ID)
			q.mu.Unlock()
			if err != nil && !errors.Is(err, synclog.ErrNotFound) {
				return report, fmt.Errorf("mark %s synced: %w", rec.FileName, err)
			}
			report.Synced++
			slog.Info("Resynced recording", "file_name", rec.FileName)
			q.notify(Notice{Level: LevelInfo, FileName: rec.FileName, Message: "Uploaded " + rec.FileName})
		}
	}
	return report, nil
}

// Records lists the subject's records in append order.
func (q *Queue) Records(ctx context.Context, subjectID string) ([]synclog.Record, error) {
	return q.log.List(ctx, subjectID)
}

// Subjects lists subjects with at least one record.
func (q *Queue) Subjects(ctx context.Context) ([]string, error) {
	return q.log.Subjects(ctx)
}

// Wait blocks until in-flight uploads have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}
