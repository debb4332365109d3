package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/store"
	"github.com/audiolibrelab/voicecollect/internal/transcode"
)

var convertCmd = &cobra.Command{
	Use:   "convert [filename...]",
	Short: "Convert stored webm recordings to wav",
	Long: `Convert recordings in the server's upload directory from webm to mono
16-bit WAV using ffmpeg. The converted file keeps the subject, run and item of
its source. Use --subject to convert every webm recording of a subject.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, _ := cmd.Flags().GetString("subject")
		keep, _ := cmd.Flags().GetBool("keep")
		rate, _ := cmd.Flags().GetInt("sample-rate")

		if subjectID == "" && len(args) == 0 {
			return errors.New("specify recordings to convert or --subject")
		}

		st, err := store.NewOS(cfg.Server.UploadDir, cfg.Server.MaxFileSize)
		if err != nil {
			return fmt.Errorf("failed to open upload directory: %w", err)
		}
		tr := transcode.New(st, rate)

		var converted []string
		if subjectID != "" {
			if converted, err = tr.Subject(subjectID, keep); err != nil {
				return fmt.Errorf("conversion failed: %w", err)
			}
		}
		for _, name := range args {
			out, err := tr.ToWAV(name, keep)
			if err != nil {
				return fmt.Errorf("conversion of %s failed: %w", name, err)
			}
			converted = append(converted, out)
		}

		for _, name := range converted {
			fmt.Printf("Converted: %s\n", name)
		}
		fmt.Printf("%d recording(s) converted\n", len(converted))
		return nil
	},
}

func init() {
	convertCmd.Flags().String("subject", "", "convert every webm recording of this subject")
	convertCmd.Flags().Bool("keep", false, "keep the webm source")
	convertCmd.Flags().Int("sample-rate", transcode.DefaultSampleRate, "sample rate of the wav output")
}
