package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/filename"
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List or delete recordings on the server",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list <subject-id>",
	Short: "List a subject's recordings on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(cfg)
		if err != nil {
			return err
		}

		names, err := api.GetRecordings(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list recordings: %w", err)
		}
		if len(names) == 0 {
			fmt.Printf("No recordings for subject %s.\n", args[0])
			return nil
		}

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			row := []string{name, "", "", ""}
			if parsed, err := filename.Decode(name); err == nil {
				row[1] = fmt.Sprintf("%d", parsed.Repetition)
				row[2] = parsed.Item
				row[3] = string(parsed.Ext)
			}
			rows = append(rows, row)
		}
		renderTable([]string{"File", "Run", "Item", "Format"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft})
		fmt.Printf("%d recording(s)\n", len(names))
		return nil
	},
}

var recordingsDeleteCmd = &cobra.Command{
	Use:   "delete <filename>...",
	Short: "Delete recordings from the server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(cfg)
		if err != nil {
			return err
		}
		for _, name := range args {
			if err := api.DeleteRecording(cmd.Context(), name); err != nil {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
			fmt.Printf("Deleted: %s\n", name)
		}
		return nil
	},
}

func init() {
	recordingsCmd.AddCommand(recordingsListCmd)
	recordingsCmd.AddCommand(recordingsDeleteCmd)
}
