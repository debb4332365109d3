package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/client"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the recordings server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(cfg)
		if err != nil {
			return err
		}
		if !api.CheckServerStatus(cmd.Context()) {
			fmt.Printf("Health: server offline at %s\n", api.BaseURL())
			return fmt.Errorf("%w: %s", client.ErrServerOffline, api.BaseURL())
		}
		fmt.Printf("Health: server running at %s\n", api.BaseURL())
		return nil
	},
}
