package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/server"
	"github.com/audiolibrelab/voicecollect/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recordings server",
	Long: `Start the recordings server that accepts uploads from recording sessions.

Recordings are stored in server.upload_dir (UPLOAD_DIR), which is created on
start. PORT and MAX_FILE_SIZE override the configured port and upload limit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		if dir, _ := cmd.Flags().GetString("upload-dir"); dir != "" {
			cfg.Server.UploadDir = dir
		}

		st, err := store.NewOS(cfg.Server.UploadDir, cfg.Server.MaxFileSize)
		if err != nil {
			return fmt.Errorf("failed to prepare upload directory: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.New(cfg.Server, st).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the server (overrides config)")
	serveCmd.Flags().String("upload-dir", "", "directory for recordings (overrides config)")
}
