package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/client"
	"github.com/audiolibrelab/voicecollect/internal/upload"
)

var resyncCmd = &cobra.Command{
	Use:   "resync [subject-id]",
	Short: "Upload samples that are still pending",
	Long: `Upload every locally saved sample that the server has not accepted yet.
Without a subject id all subjects in the local queue are processed. Samples
that fail again stay pending.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		subjectID := ""
		if len(args) == 1 {
			subjectID = args[0]
		}

		api, err := newAPIClient(cfg)
		if err != nil {
			return err
		}
		if !api.CheckServerStatus(ctx) {
			return fmt.Errorf("%w: %s", client.ErrServerOffline, api.BaseURL())
		}

		log, err := openSyncLog(cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		queue := upload.New(log, api, upload.WithNotify(func(n upload.Notice) {
			if n.Level == upload.LevelWarn {
				fmt.Printf("  Failed: %s\n", n.Message)
			} else {
				fmt.Printf("  Uploaded: %s\n", n.FileName)
			}
		}))

		report, err := queue.Resync(ctx, subjectID)
		if err != nil {
			return fmt.Errorf("resync failed: %w", err)
		}

		fmt.Printf("Resync: %d attempted, %d uploaded, %d failed\n", report.Attempted, report.Synced, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d sample(s) could not be uploaded", report.Failed)
		}
		return nil
	},
}
