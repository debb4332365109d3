package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Source is one capture source reported by the sound server.
type Source struct {
	Index  string `json:"index"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Format string `json:"format"`
	State  string `json:"state"`
}

// IsMonitor reports whether the source mirrors an output rather than a
// microphone.
func (s Source) IsMonitor() bool {
	return strings.HasSuffix(s.Name, ".monitor")
}

// Sources queries PulseAudio/PipeWire for capture sources via pactl.
type Sources struct {
	run func() ([]byte, error)
}

// NewSources creates a Sources backed by `pactl list short sources`.
func NewSources() *Sources {
	return &Sources{run: func() ([]byte, error) {
		return exec.Command("pactl", "list", "short", "sources").Output()
	}}
}

// List returns all capture sources.
func (s *Sources) List() ([]Source, error) {
	output, err := s.run()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture sources: %w", err)
	}
	return parseSources(string(output)), nil
}

// Validate checks that name exists exactly once. "default" and "" always
// pass since the sound server resolves them.
func (s *Sources) Validate(name string) error {
	if name == "" || name == "default" {
		return nil
	}

	sources, err := s.List()
	if err != nil {
		slog.Debug("Failed to check source existence", "source", name, "error", err)
		return err
	}
	return validateSourceInList(name, sources)
}

func validateSourceInList(name string, sources []Source) error {
	duplicates := findSourceDuplicatesInList(name, sources)
	if len(duplicates) == 0 {
		return fmt.Errorf("source not found: %s", name)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %d entries. Please close conflicting applications", name, len(duplicates))
	}
	return nil
}

// findSourceDuplicatesInList returns every source with exactly this name.
func findSourceDuplicatesInList(name string, sources []Source) []Source {
	var duplicates []Source
	for _, src := range sources {
		if src.Name == name {
			duplicates = append(duplicates, src)
		}
	}
	return duplicates
}

// parseSources reads the tab separated pactl short listing.
func parseSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		src := Source{Index: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			src.Driver = fields[2]
		}
		if len(fields) > 3 {
			src.Format = fields[3]
		}
		if len(fields) > 4 {
			src.State = fields[4]
		}
		sources = append(sources, src)
	}
	return sources
}
