package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDevice struct {
	openErr   error
	finishErr error
	data      []byte
	opened    atomic.Int32
	closed    atomic.Int32
}

func (d *fakeDevice) Extension() string { return "webm" }

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened.Add(1)
	return &fakeStream{dev: d}, nil
}

type fakeStream struct {
	dev *fakeDevice
}

func (s *fakeStream) Finish() ([]byte, error) {
	if s.dev.finishErr != nil {
		return nil, s.dev.finishErr
	}
	return s.dev.data, nil
}

func (s *fakeStream) Close() error {
	s.dev.closed.Add(1)
	return nil
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for capture result")
		return Result{}
	}
}

func TestManualStop(t *testing.T) {
	dev := &fakeDevice{data: []byte("audio")}
	c := NewController(dev, time.Minute)

	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.State() != StateRecording {
		t.Errorf("Expected RECORDING, got %s", c.State())
	}

	c.Stop()
	res := waitResult(t, result)
	if res.Err != nil {
		t.Fatalf("Unexpected capture error: %v", res.Err)
	}
	if string(res.Sample.Audio) != "audio" || res.Sample.Extension != "webm" {
		t.Errorf("Unexpected sample: %+v", res.Sample)
	}
	if res.Sample.AutoStopped {
		t.Error("Manual stop reported as auto-stopped")
	}
	if c.State() != StateIdle {
		t.Errorf("Expected IDLE after stop, got %s", c.State())
	}
	if dev.closed.Load() != 1 {
		t.Errorf("Expected device released once, got %d", dev.closed.Load())
	}
	if _, ok := <-result; ok {
		t.Error("Expected result channel to be closed")
	}
}

func TestAutoStopAtTimeLimit(t *testing.T) {
	dev := &fakeDevice{data: []byte("audio")}
	c := NewController(dev, 20*time.Millisecond)

	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	res := waitResult(t, result)
	if res.Err != nil {
		t.Fatalf("Unexpected capture error: %v", res.Err)
	}
	if !res.Sample.AutoStopped {
		t.Error("Expected sample to be auto-stopped")
	}
	if res.Sample.Duration < 20*time.Millisecond {
		t.Errorf("Capture ended before the time limit: %s", res.Sample.Duration)
	}
	if dev.closed.Load() != 1 {
		t.Errorf("Expected device released once, got %d", dev.closed.Load())
	}
}

func TestStartWhileRecording(t *testing.T) {
	dev := &fakeDevice{data: []byte("audio")}
	c := NewController(dev, time.Minute)

	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
	if dev.opened.Load() != 1 {
		t.Errorf("Second start must not open the device, opened %d times", dev.opened.Load())
	}
	c.Stop()
	waitResult(t, result)
}

func TestDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("permission denied")}
	c := NewController(dev, time.Minute)

	_, err := c.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	var capErr *Error
	if !errors.As(err, &capErr) || capErr.ErrorKind() != "device" {
		t.Errorf("Expected device error kind, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected IDLE after failed acquisition, got %s", c.State())
	}

	// Retry works once the device is back
	dev.openErr = nil
	dev.data = []byte("ok")
	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	c.Stop()
	waitResult(t, result)
}

func TestStopOutsideRecordingIsNoop(t *testing.T) {
	dev := &fakeDevice{data: []byte("audio")}
	c := NewController(dev, time.Minute)

	c.Stop()
	if c.State() != StateIdle {
		t.Errorf("Expected IDLE, got %s", c.State())
	}
	if dev.closed.Load() != 0 {
		t.Error("Stop without a capture must not touch the device")
	}
}

func TestFinishErrorStillReleasesDevice(t *testing.T) {
	dev := &fakeDevice{finishErr: errors.New("encoder crashed")}
	c := NewController(dev, time.Minute)

	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Stop()
	res := waitResult(t, result)
	if res.Err == nil {
		t.Fatal("Expected capture error")
	}
	if dev.closed.Load() != 1 {
		t.Errorf("Expected device released on error path, got %d", dev.closed.Load())
	}
	if c.State() != StateIdle {
		t.Errorf("Expected IDLE after error, got %s", c.State())
	}
}

func TestEmptyCaptureIsError(t *testing.T) {
	c := NewController(&fakeDevice{}, time.Minute)
	result, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Stop()
	if res := waitResult(t, result); res.Err == nil {
		t.Error("Expected error for empty capture")
	}
}

func TestContextCancelStops(t *testing.T) {
	dev := &fakeDevice{data: []byte("audio")}
	c := NewController(dev, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	result, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	res := waitResult(t, result)
	if res.Err != nil || res.Sample == nil {
		t.Errorf("Expected sample after cancel, got %+v", res)
	}
}

func TestCapture(t *testing.T) {
	c := NewController(&fakeDevice{data: []byte("audio")}, 10*time.Millisecond)
	sample, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if string(sample.Audio) != "audio" {
		t.Errorf("Unexpected audio: %q", sample.Audio)
	}
}
