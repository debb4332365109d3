package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/audiolibrelab/voicecollect/internal/client"
)

func newClient(t *testing.T, handler http.HandlerFunc, opts ...client.Option) *client.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := client.New(server.URL, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := client.New(" "); err == nil {
		t.Fatal("expected error when server url missing")
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("expected audio field: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "42_1A.webm" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/webm" {
			t.Errorf("unexpected part content type %q", ct)
		}
		if string(data) != "webm-bytes" {
			t.Errorf("unexpected body %q", data)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"filename": header.Filename, "size": len(data)},
		})
	})

	result, err := c.UploadRecording(context.Background(), "42_1A.webm", []byte("webm-bytes"))
	if err != nil {
		t.Fatalf("UploadRecording returned error: %v", err)
	}
	if result.Filename != "42_1A.webm" || result.Size != int64(len("webm-bytes")) {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestUploadRejectsInvalidNameLocally(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	if err := c.Upload(context.Background(), "../42_1A.webm", []byte("x")); err == nil {
		t.Fatal("expected validation error")
	}
	if calls.Load() != 0 {
		t.Error("invalid name must not reach the server")
	}
}

func TestUploadServerError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"status":"error","message":"File too large"}`))
	})

	err := c.Upload(context.Background(), "42_1A.webm", []byte("x"))
	var respErr *client.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusRequestEntityTooLarge || respErr.Message != "File too large" {
		t.Errorf("unexpected response error: %+v", respErr)
	}
	if respErr.ErrorKind() != "validation" {
		t.Errorf("expected validation kind, got %s", respErr.ErrorKind())
	}
}

func TestUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	}, client.WithTimeout(20*time.Millisecond))
	defer close(release)

	err := c.Upload(context.Background(), "42_1A.webm", []byte("x"))
	if !errors.Is(err, client.ErrNetworkTimeout) {
		t.Fatalf("expected ErrNetworkTimeout, got %v", err)
	}
}

func TestUploadServerOffline(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := client.New(url)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := c.Upload(context.Background(), "42_1A.webm", []byte("x")); !errors.Is(err, client.ErrServerOffline) {
		t.Fatalf("expected ErrServerOffline, got %v", err)
	}
}

func TestGetRecordings(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recordings/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"recordings":["42_1A.webm","42_1B.webm"]}}`))
	})

	names, err := c.GetRecordings(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetRecordings returned error: %v", err)
	}
	if len(names) != 2 || names[1] != "42_1B.webm" {
		t.Errorf("unexpected recordings: %v", names)
	}

	if _, err := c.GetRecordings(context.Background(), "4a"); err == nil {
		t.Error("expected error for non-numeric subject id")
	}
}

func TestDeleteRecording(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/recordings/42_1A.webm" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"File deleted successfully"}`))
	})

	if err := c.DeleteRecording(context.Background(), "42_1A.webm"); err != nil {
		t.Fatalf("DeleteRecording returned error: %v", err)
	}
}

func TestCheckServerStatus(t *testing.T) {
	healthy := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Server is running"}`))
	})
	if !healthy.CheckServerStatus(context.Background()) {
		t.Error("expected server to be reported online")
	}

	wrongBody := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	})
	if wrongBody.CheckServerStatus(context.Background()) {
		t.Error("unexpected online for wrong status body")
	}

	failing := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if failing.CheckServerStatus(context.Background()) {
		t.Error("unexpected online for 503")
	}
}

func TestMonitorReportsTransitions(t *testing.T) {
	var up atomic.Bool
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"Server is running"}`))
	})

	var changes []bool
	m := client.NewMonitor(c, time.Minute, func(online bool) { changes = append(changes, online) })
	if !m.Online() {
		t.Fatal("monitor should start optimistic")
	}

	m.Check(context.Background())
	m.Check(context.Background())
	up.Store(true)
	m.Check(context.Background())

	if len(changes) != 2 || changes[0] != false || changes[1] != true {
		t.Errorf("unexpected transitions: %v", changes)
	}
	if !m.Online() {
		t.Error("expected online after recovery")
	}
}
