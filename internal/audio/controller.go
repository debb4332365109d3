package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeLimit bounds a single capture when no limit is configured.
const DefaultTimeLimit = 5 * time.Second

var (
	// ErrDeviceUnavailable means the capture device could not be acquired.
	ErrDeviceUnavailable = &Error{msg: "capture device unavailable", kind: "device"}
	// ErrAlreadyRecording is returned by Start while a capture is active.
	ErrAlreadyRecording = &Error{msg: "capture already in progress", kind: "programmer"}
)

// Error is a capture failure with a classification.
type Error struct {
	msg  string
	kind string
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) ErrorKind() string { return e.kind }

// State is the controller's position in a single capture attempt.
type State string

const (
	StateIdle      State = "IDLE"
	StateAcquiring State = "ACQUIRING"
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
)

// Sample is the audio produced by one capture.
type Sample struct {
	Audio      []byte
	Extension  string
	CapturedAt time.Time
	Duration   time.Duration
	// AutoStopped is set when the time limit ended the capture.
	AutoStopped bool
}

// Result is delivered once per successful Start.
type Result struct {
	Sample *Sample
	Err    error
}

// Controller runs one capture at a time against a Device. A started capture
// ends either on Stop or when the time limit elapses, and the device stream
// is closed on every path out of RECORDING.
type Controller struct {
	device Device
	limit  time.Duration

	mu      sync.Mutex
	state   State
	stream  Stream
	timer   *time.Timer
	started time.Time
	result  chan Result
	done    chan struct{}
}

// NewController creates a controller for device. A non-positive limit uses
// DefaultTimeLimit.
func NewController(device Device, limit time.Duration) *Controller {
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	return &Controller{device: device, limit: limit, state: StateIdle}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TimeLimit returns the auto-stop duration.
func (c *Controller) TimeLimit() time.Duration { return c.limit }

// Start acquires the device and begins capturing. The returned channel
// receives exactly one Result and is then closed. Cancelling ctx while
// recording behaves like Stop.
func (c *Controller) Start(ctx context.Context) (<-chan Result, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	c.state = StateAcquiring
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)
	if err != nil {
		c.setState(StateIdle)
		slog.Debug("Capture device acquisition failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.state = StateRecording
	c.started = time.Now()
	c.result = make(chan Result, 1)
	c.done = make(chan struct{})
	c.timer = time.AfterFunc(c.limit, func() { c.finish(true) })
	result, done := c.result, c.done
	c.mu.Unlock()

	slog.Debug("Capture started", "time_limit", c.limit)

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-done:
		}
	}()

	return result, nil
}

// Stop ends the active capture. Outside RECORDING it does nothing.
func (c *Controller) Stop() {
	c.finish(false)
}

// Capture runs Start and waits for the result.
func (c *Controller) Capture(ctx context.Context) (*Sample, error) {
	result, err := c.Start(ctx)
	if err != nil {
		return nil, err
	}
	res := <-result
	return res.Sample, res.Err
}

func (c *Controller) finish(auto bool) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.timer.Stop()
	stream, result, done, started := c.stream, c.result, c.done, c.started
	c.stream = nil
	c.mu.Unlock()

	audio, err := drain(stream)
	elapsed := time.Since(started)

	c.setState(StateIdle)
	close(done)

	if err != nil {
		slog.Debug("Capture failed", "error", err)
		result <- Result{Err: fmt.Errorf("finalize capture: %w", err)}
	} else {
		slog.Debug("Capture finished", "bytes", len(audio), "duration", elapsed, "auto_stopped", auto)
		result <- Result{Sample: &Sample{
			Audio:       audio,
			Extension:   c.device.Extension(),
			CapturedAt:  started.UTC(),
			Duration:    elapsed,
			AutoStopped: auto,
		}}
	}
	close(result)
}

// drain finalizes the stream and always closes it.
func drain(stream Stream) (audio []byte, err error) {
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			slog.Debug("Failed to release capture device", "error", cerr)
		}
	}()
	audio, err = stream.Finish()
	if err == nil && len(audio) == 0 {
		err = errors.New("no audio captured")
	}
	return audio, err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
