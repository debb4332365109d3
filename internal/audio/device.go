package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Device is an acquirable capture source.
type Device interface {
	// Open acquires the device and starts capturing.
	Open(ctx context.Context) (Stream, error)
	// Extension is the container the device produces ("webm" or "wav").
	Extension() string
}

// Stream is an open capture. Finish stops it and returns the encoded audio.
// Close releases the device and is safe to call more than once.
type Stream interface {
	Finish() ([]byte, error)
	Close() error
}

// FFmpegDevice captures through an ffmpeg child process writing the encoded
// container to its stdout.
type FFmpegDevice struct {
	Binary      string // defaults to "ffmpeg"
	InputFormat string // -f value, e.g. pulse or alsa
	Source      string // -i value
	Ext         string // "webm" or "wav"
	SampleRate  int

	// StartupGrace is how long Open waits for ffmpeg to fail on a missing or
	// busy device before reporting success.
	StartupGrace time.Duration
}

func (d *FFmpegDevice) Extension() string {
	if d.Ext == "" {
		return "webm"
	}
	return d.Ext
}

func (d *FFmpegDevice) args() []string {
	format := d.InputFormat
	if format == "" {
		format = "pulse"
	}
	source := d.Source
	if source == "" {
		source = "default"
	}
	rate := d.SampleRate
	if rate == 0 {
		rate = 48000
	}

	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", format,
		"-i", source,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", rate),
	}
	switch d.Extension() {
	case "wav":
		args = append(args, "-c:a", "pcm_s16le", "-f", "wav")
	default:
		args = append(args, "-c:a", "libopus", "-f", "webm")
	}
	return append(args, "pipe:1")
}

// Open starts ffmpeg and waits StartupGrace for an early exit.
func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := d.args()
	slog.Debug("Starting FFmpeg capture", "command", bin+" "+strings.Join(args, " "))

	s := &ffmpegStream{exited: make(chan error, 1)}
	s.cmd = exec.Command(bin, args...)
	s.cmd.Stdout = &s.stdout
	s.cmd.Stderr = &s.stderr

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	go func() { s.exited <- s.cmd.Wait() }()

	grace := d.StartupGrace
	if grace <= 0 {
		grace = 300 * time.Millisecond
	}

	select {
	case err := <-s.exited:
		s.finished = true
		return nil, fmt.Errorf("FFmpeg exited during device acquisition: %v: %s", err, strings.TrimSpace(s.stderr.String()))
	case <-ctx.Done():
		s.kill()
		return nil, ctx.Err()
	case <-time.After(grace):
	}
	return s, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	exited chan error

	mu       sync.Mutex
	finished bool
}

// Finish interrupts ffmpeg so it flushes the container, then returns stdout.
func (s *ffmpegStream) Finish() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, errors.New("capture already finished")
	}
	s.finished = true

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
		_ = s.cmd.Process.Kill()
	}

	select {
	case err := <-s.exited:
		if err != nil && !interruptedExit(err) {
			slog.Debug("FFmpeg stderr", "output", s.stderr.String())
			return nil, fmt.Errorf("FFmpeg process failed: %w", err)
		}
	case <-time.After(5 * time.Second):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	return s.stdout.Bytes(), nil
}

// Close kills ffmpeg if Finish was never called.
func (s *ffmpegStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	s.finished = true
	s.kill()
	return nil
}

func (s *ffmpegStream) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.exited
}

// interruptedExit reports whether err is ffmpeg's normal reaction to SIGINT.
func interruptedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}

// SilenceDevice produces a silent 16-bit mono WAV as long as the capture ran.
// It stands in for a microphone on headless hosts and in dry runs.
type SilenceDevice struct {
	SampleRate int
}

func (d *SilenceDevice) Extension() string { return "wav" }

func (d *SilenceDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := d.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return &silenceStream{rate: rate, started: time.Now()}, nil
}

type silenceStream struct {
	rate    int
	started time.Time
}

func (s *silenceStream) Finish() ([]byte, error) {
	samples := int(time.Since(s.started).Seconds() * float64(s.rate))
	if samples < 1 {
		samples = 1
	}
	return EncodeWAV(make([]int16, samples), s.rate), nil
}

func (s *silenceStream) Close() error { return nil }

// EncodeWAV wraps mono 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []int16, sampleRate int) []byte {
	dataLen := uint32(len(pcm) * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}
