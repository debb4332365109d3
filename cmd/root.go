package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:   "voicecollect",
	Short: "Voice sample collection sessions and recordings server",
	Long: `VoiceCollect records spoken samples from a subject working through the
letters A-Z and nine command words, three times each, and keeps every sample
in a local queue until the recordings server has accepted it.

Run 'voicecollect serve' on the machine that stores recordings and
'voicecollect record <subject-id>' on the machine with the microphone.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(verboseLevel, logFormat, os.Stderr); err != nil {
			return err
		}

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadExplicit(cfgFile, profile)
		} else {
			cfg, err = config.Load(config.DefaultPath(), profile)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/voicecollect.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "capture profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default: text on a terminal, json otherwise)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level and output format
func setupLogging(level int, format string, w io.Writer) error {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: slogLevel}

	if format == "" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
	slog.SetDefault(slog.New(handler))

	// Level 2 lets ffmpeg report through its own log level
	if level >= 2 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
