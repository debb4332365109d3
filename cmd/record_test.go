package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/voicecollect/internal/audio"
	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/service"
	"github.com/audiolibrelab/voicecollect/internal/session"
	"github.com/audiolibrelab/voicecollect/internal/synclog"
	"github.com/audiolibrelab/voicecollect/internal/upload"
)

type fakeService struct {
	mu       sync.Mutex
	records  int
	stops    int
	redos    int
	complete bool

	// blockUntilStop makes Record wait for StopCapture.
	blockUntilStop bool
	// ignoreStops is the number of leading StopCapture calls that do not
	// end the capture, as when the device is still being acquired.
	ignoreStops   int
	started       chan struct{}
	stopped       chan struct{}
	recordErr     error
	completeAfter int
	pending       []synclog.Record
}

func newFakeService() *fakeService {
	return &fakeService{started: make(chan struct{}, 10), stopped: make(chan struct{}, 10)}
}

func (f *fakeService) Record(ctx context.Context) (*service.Outcome, error) {
	f.started <- struct{}{}
	if f.blockUntilStop {
		<-f.stopped
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.records++
	done := f.completeAfter > 0 && f.records >= f.completeAfter
	f.complete = done
	return &service.Outcome{
		Slot:     session.Slot{Position: session.Position{Run: 1, ItemIndex: f.records - 1}, Item: "A"},
		Record:   &synclog.Record{FileName: "42_1A.webm", Size: 2048},
		Complete: done,
	}, nil
}

func (f *fakeService) StopCapture() {
	f.mu.Lock()
	f.stops++
	ignored := f.stops <= f.ignoreStops
	f.mu.Unlock()
	if ignored {
		return
	}
	select {
	case f.stopped <- struct{}{}:
	default:
	}
}

func (f *fakeService) Redo(ctx context.Context) (*service.RedoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redos++
	return &service.RedoResult{Moved: true, Slot: session.Slot{Position: session.Position{Run: 1}, Item: "A"}, Discarded: true}, nil
}

func (f *fakeService) Status() service.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := service.Snapshot{SubjectID: "42", Status: service.StatusStandby, CompletedSlots: f.records, TotalSlots: 105}
	if f.complete {
		snap.Status = service.StatusComplete
	}
	return snap
}

func (f *fakeService) GetLastError() string { return "" }

func (f *fakeService) Resync(ctx context.Context) (upload.ResyncReport, error) {
	return upload.ResyncReport{}, nil
}

func (f *fakeService) Records(ctx context.Context) ([]synclog.Record, error) {
	return f.pending, nil
}

func (f *fakeService) Wait() {}

func (f *fakeService) counts() (records, stops, redos int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, f.stops, f.redos
}

func TestRunSessionRecordStopRedoQuit(t *testing.T) {
	svc := newFakeService()
	svc.blockUntilStop = true

	pr, pw := io.Pipe()
	var out bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- runSession(context.Background(), svc, pr, &out) }()

	pw.Write([]byte("\n"))
	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Record to start")
	}
	pw.Write([]byte("\n"))
	pw.Write([]byte("r\n"))
	pw.Write([]byte("q\n"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runSession failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runSession did not return")
	}

	records, stops, redos := svc.counts()
	if records != 1 || stops < 1 || redos != 1 {
		t.Errorf("Expected 1 record, a stop and 1 redo, got %d, %d, %d", records, stops, redos)
	}
	if !strings.Contains(out.String(), "Recording: saved 42_1A.webm (2.0 KiB)") {
		t.Errorf("Expected saved message, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "previous sample discarded") {
		t.Errorf("Expected redo message, got:\n%s", out.String())
	}
}

func TestRunSessionStopDuringAcquire(t *testing.T) {
	svc := newFakeService()
	svc.blockUntilStop = true
	svc.ignoreStops = 2

	pr, pw := io.Pipe()
	var out bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- runSession(context.Background(), svc, pr, &out) }()

	pw.Write([]byte("\n"))
	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Record to start")
	}
	// a single Enter must end the capture even though the first stops are ignored
	pw.Write([]byte("\n"))

	deadline := time.After(2 * time.Second)
	for {
		records, _, _ := svc.counts()
		if records == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Expected the capture to end after one Enter")
		case <-time.After(10 * time.Millisecond):
		}
	}
	pw.Write([]byte("q\n"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runSession failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runSession did not return")
	}

	if _, stops, _ := svc.counts(); stops < 3 {
		t.Errorf("Expected the stop to be repeated, got %d stop(s)", stops)
	}
	for _, r := range out.String() {
		if r > 0x7f {
			t.Errorf("Expected plain ASCII output, got %q in:\n%s", r, out.String())
			break
		}
	}
}

func TestRunSessionStopsAtCompletion(t *testing.T) {
	svc := newFakeService()
	svc.completeAfter = 1

	var out bytes.Buffer
	if err := runSession(context.Background(), svc, strings.NewReader("\n\n\n"), &out); err != nil {
		t.Fatalf("runSession failed: %v", err)
	}
	if records, _, _ := svc.counts(); records != 1 {
		t.Errorf("Expected the session to end after completion, got %d records", records)
	}
}

func TestRunSessionErrors(t *testing.T) {
	t.Run("retryable", func(t *testing.T) {
		svc := newFakeService()
		svc.recordErr = audio.ErrDeviceUnavailable

		var out bytes.Buffer
		if err := runSession(context.Background(), svc, strings.NewReader("\nq\n"), &out); err != nil {
			t.Fatalf("Expected retryable error to be reported, got %v", err)
		}
		if !strings.Contains(out.String(), "Press Enter to try again") {
			t.Errorf("Expected retry hint, got:\n%s", out.String())
		}
	})

	t.Run("fatal", func(t *testing.T) {
		svc := newFakeService()
		svc.recordErr = &filename.ValidationError{Name: "x", Reason: "bad"}

		err := runSession(context.Background(), svc, strings.NewReader("\nq\n"), io.Discard)
		if !errors.Is(err, filename.ErrInvalidFilename) {
			t.Errorf("Expected validation error to end the session, got %v", err)
		}
	})
}

func TestRunSessionEndsOnEOF(t *testing.T) {
	svc := newFakeService()
	if err := runSession(context.Background(), svc, strings.NewReader(""), io.Discard); err != nil {
		t.Fatalf("runSession failed: %v", err)
	}
}

func TestPrintSummary(t *testing.T) {
	svc := newFakeService()
	svc.pending = []synclog.Record{{IsSynced: false}, {IsSynced: true}, {IsSynced: false}}

	var out bytes.Buffer
	printSummary(context.Background(), svc, &out)

	if !strings.Contains(out.String(), "Session paused for subject 42") {
		t.Errorf("Expected paused summary, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "2 sample(s) not yet uploaded") {
		t.Errorf("Expected pending count, got:\n%s", out.String())
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if err := setupLogging(0, "json", &buf); err != nil {
		t.Fatalf("setupLogging failed: %v", err)
	}
	slog.Debug("hidden")
	slog.Info("shown", "subject_id", "42")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected a single JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["subject_id"] != "42" {
		t.Errorf("Unexpected log entry: %v", entry)
	}

	buf.Reset()
	if err := setupLogging(1, "", &buf); err != nil {
		t.Fatalf("setupLogging failed: %v", err)
	}
	slog.Debug("debug line")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected JSON output for a non-terminal writer, got %q", buf.String())
	}

	if err := setupLogging(0, "xml", &buf); err == nil {
		t.Error("Expected error for unknown log format")
	}
}
