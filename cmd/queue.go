package cmd

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/synclog"
	"github.com/audiolibrelab/voicecollect/internal/upload"
)

var queueCmd = &cobra.Command{
	Use:   "queue [subject-id]",
	Short: "Show locally saved samples and their upload state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openSyncLog(cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		ctx := cmd.Context()
		queue := upload.New(log, nil)

		subjects := args
		if len(subjects) == 0 {
			if subjects, err = queue.Subjects(ctx); err != nil {
				return fmt.Errorf("failed to list subjects: %w", err)
			}
		}

		var records []synclog.Record
		for _, subjectID := range subjects {
			recs, err := queue.Records(ctx, subjectID)
			if err != nil {
				return fmt.Errorf("failed to read queue for subject %s: %w", subjectID, err)
			}
			records = append(records, recs...)
		}

		if len(records) == 0 {
			fmt.Println("No samples in the local queue.")
			return nil
		}

		pendingOnly, _ := cmd.Flags().GetBool("pending")
		rows := make([][]string, 0, len(records))
		pending := 0
		for _, rec := range records {
			if !rec.IsSynced {
				pending++
			} else if pendingOnly {
				continue
			}
			synced := "pending"
			if rec.IsSynced {
				synced = "synced"
			}
			rows = append(rows, []string{
				rec.SubjectID,
				rec.FileName,
				strconv.Itoa(rec.Repetition),
				humanize.IBytes(uint64(rec.Size)),
				humanize.Time(rec.Timestamp),
				synced,
			})
		}

		renderTable(
			[]string{"Subject", "File", "Run", "Size", "Captured", "State"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		)
		fmt.Printf("%d sample(s), %d pending upload\n", len(records), pending)
		return nil
	},
}

func init() {
	queueCmd.Flags().Bool("pending", false, "only show samples not yet uploaded")
}
