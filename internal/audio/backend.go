package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/voicecollect/internal/config"
)

// BackendType names a capture device implementation.
type BackendType string

const (
	BackendTypeFFmpeg  BackendType = "ffmpeg"
	BackendTypeSilence BackendType = "silence"
	BackendTypeAuto    BackendType = "auto"
)

var lookPath = exec.LookPath

// NewDevice builds the capture device selected by cfg.
func NewDevice(cfg *config.CaptureConfig) (Device, error) {
	switch backend := determineBackend(cfg); backend {
	case BackendTypeFFmpeg:
		return &FFmpegDevice{
			InputFormat: cfg.InputFormat,
			Source:      cfg.Source,
			Ext:         cfg.Extension,
		}, nil
	case BackendTypeSilence:
		return &SilenceDevice{}, nil
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", backend)
	}
}

// NewCaptureController wires a controller to the configured device.
func NewCaptureController(cfg *config.CaptureConfig) (*Controller, error) {
	device, err := NewDevice(cfg)
	if err != nil {
		return nil, err
	}
	return NewController(device, cfg.TimeLimit), nil
}

// determineBackend resolves "auto" to ffmpeg when it is installed.
func determineBackend(cfg *config.CaptureConfig) BackendType {
	switch BackendType(strings.ToLower(cfg.Backend)) {
	case BackendTypeFFmpeg:
		return BackendTypeFFmpeg
	case BackendTypeSilence:
		return BackendTypeSilence
	case BackendTypeAuto, "":
		if _, err := lookPath("ffmpeg"); err == nil {
			return BackendTypeFFmpeg
		}
		slog.Warn("ffmpeg not found, capturing silence")
		return BackendTypeSilence
	default:
		return BackendType(cfg.Backend)
	}
}

// GetAvailableBackends returns the backends usable on this system.
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}
	if _, err := lookPath("ffmpeg"); err == nil {
		backends = append(backends, BackendTypeFFmpeg)
	}
	return append(backends, BackendTypeSilence)
}
