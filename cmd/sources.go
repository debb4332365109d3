package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long:  `List the capture sources known to PulseAudio/PipeWire and the capture backends usable on this system.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backends := audio.GetAvailableBackends()
		names := make([]string, len(backends))
		for i, b := range backends {
			names[i] = string(b)
		}
		fmt.Printf("Capture backends (%s): %s\n", runtime.GOOS, strings.Join(names, ", "))
		fmt.Printf("   Configured: backend=%s source=%s format=%s\n\n", cfg.Capture.Backend, cfg.Capture.Source, cfg.Capture.InputFormat)

		src := audio.NewSources()
		sources, err := src.List()
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(sources))
		for _, s := range sources {
			kind := "input"
			if s.IsMonitor() {
				kind = "monitor"
			}
			rows = append(rows, []string{s.Index, s.Name, kind, s.Format, s.State})
		}
		renderTable([]string{"#", "Name", "Type", "Format", "State"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft})

		if err := src.Validate(cfg.Capture.Source); err != nil && cfg.Capture.InputFormat == "pulse" {
			fmt.Printf("\nWarning: %v\n", err)
		}
		fmt.Printf("\nSet capture.source to a name above, or 'default' for the system default input.\n")
		return nil
	},
}
