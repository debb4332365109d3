// Package transcode converts stored webm recordings into canonical WAV files.
package transcode

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/store"
)

// DefaultSampleRate is the rate of converted files.
const DefaultSampleRate = 16000

// ErrAlreadyWAV is returned when the source is already canonical.
var ErrAlreadyWAV = errors.New("recording is already wav")

type Transcoder struct {
	store      *store.Store
	sampleRate int
	run        func(name string, args ...string) ([]byte, error)
}

// New creates a transcoder writing into st. A non-positive sampleRate uses
// DefaultSampleRate.
func New(st *store.Store, sampleRate int) *Transcoder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Transcoder{
		store:      st,
		sampleRate: sampleRate,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

// ToWAV converts a stored recording to mono 16-bit WAV under the same
// subject, repetition and item. The source is removed unless keepSource.
func (t *Transcoder) ToWAV(name string, keepSource bool) (string, error) {
	parsed, err := filename.Decode(name)
	if err != nil {
		return "", err
	}
	if parsed.Ext == filename.ExtWAV {
		return "", fmt.Errorf("%w: %s", ErrAlreadyWAV, name)
	}

	inputFile, err := t.store.Path(name)
	if err != nil {
		return "", err
	}

	parsed.Ext = filename.ExtWAV
	outName := parsed.String()

	tmpDir, err := os.MkdirTemp("", "voicecollect-convert-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	tmpFile := filepath.Join(tmpDir, outName)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inputFile,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", t.sampleRate),
		"-c:a", "pcm_s16le",
		"-y",
		tmpFile,
	}
	slog.Debug("Running FFmpeg for conversion", "command", "ffmpeg "+strings.Join(args, " "))

	if output, err := t.run("ffmpeg", args...); err != nil {
		return "", fmt.Errorf("FFmpeg conversion failed: %w\nOutput: %s", err, string(output))
	}

	f, err := os.Open(tmpFile)
	if err != nil {
		return "", fmt.Errorf("output file not created: %s", tmpFile)
	}
	defer f.Close()

	size, err := t.store.Save(outName, filename.ContentType(filename.ExtWAV), f)
	if err != nil {
		return "", err
	}

	if !keepSource {
		if err := t.store.Delete(name); err != nil {
			return "", fmt.Errorf("remove source %s: %w", name, err)
		}
	}

	slog.Info("Converted recording", "source", name, "output", outName, "size", size)
	return outName, nil
}

// Subject converts every webm recording of subjectID and returns the names
// written. It stops at the first failure.
func (t *Transcoder) Subject(subjectID string, keepSource bool) ([]string, error) {
	names, err := t.store.List(subjectID)
	if err != nil {
		return nil, err
	}

	var converted []string
	for _, name := range names {
		if !strings.EqualFold(filepath.Ext(name), ".webm") {
			continue
		}
		out, err := t.ToWAV(name, keepSource)
		if err != nil {
			return converted, err
		}
		converted = append(converted, out)
	}
	return converted, nil
}
