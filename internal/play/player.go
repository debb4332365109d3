// Package play reviews recordings through an installed command-line player.
package play

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Player struct {
	players  []string
	lookPath func(string) (string, error)
	run      func(cmd *exec.Cmd) error
}

func New() *Player {
	return &Player{
		// Preferred audio players in order of preference
		players:  []string{"vlc", "mpv", "ffplay", "aplay"},
		lookPath: exec.LookPath,
		run:      func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// Play plays the audio file at path and blocks until playback ends.
func (p *Player) Play(audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := p.command(player, audioFile)
	if err != nil {
		return err
	}

	fmt.Printf("Playing: %s\n", audioFile)
	if err := p.run(cmd); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

// PlayBytes writes audio to a temp file with extension ext and plays it.
func (p *Player) PlayBytes(audio []byte, ext string) error {
	f, err := os.CreateTemp("", "voicecollect-*."+strings.TrimPrefix(ext, "."))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return p.Play(f.Name())
}

func (p *Player) command(player, audioFile string) (*exec.Cmd, error) {
	switch player {
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", audioFile), nil
	case "mpv":
		return exec.Command("mpv", "--no-video", audioFile), nil
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", audioFile), nil
	case "aplay":
		// aplay only understands WAV
		if ext := strings.ToLower(filepath.Ext(audioFile)); ext != ".wav" {
			return nil, fmt.Errorf("aplay requires WAV format, got %s (run convert first)", ext)
		}
		return exec.Command("aplay", audioFile), nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range p.players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(p.players, ", "))
}
