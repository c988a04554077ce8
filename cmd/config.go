package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with credentials masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(config.Instance.Redacted(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}

		source := config.ConfigFile
		if !config.ConfigLoaded {
			source = "defaults and environment"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "# source: %s\n", source)
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}
