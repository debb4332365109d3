package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/play"
	"github.com/audiolibrelab/voicecollect/internal/store"
)

var playCmd = &cobra.Command{
	Use:   "play <filename|path>",
	Short: "Play a recording",
	Long: `Play a recording from the server's upload directory, or any audio file
given by path, with the first installed player (vlc, mpv, ffplay, aplay).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			st, err := store.NewOS(cfg.Server.UploadDir, cfg.Server.MaxFileSize)
			if err != nil {
				return fmt.Errorf("failed to open upload directory: %w", err)
			}
			if path, err = st.Path(args[0]); err != nil {
				return err
			}
		}
		return play.New().Play(path)
	},
}
