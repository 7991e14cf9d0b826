package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults, config file, environment
(CRUDSTRESS_*) and flags are merged. Secrets are omitted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if configErr != nil {
			return err
		}

		b, merr := yaml.Marshal(cfg)
		if merr != nil {
			return fmt.Errorf("encode config: %w", merr)
		}
		if f := v.ConfigFileUsed(); f != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
		}
		_, _ = cmd.OutOrStdout().Write(b)
		// still report an invalid config after printing it
		return err
	},
}
