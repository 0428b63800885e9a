package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/internal/config"
)

var showUsage bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after every source was applied, secrets masked.
With --usage, list every setting with its environment variable instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			text string
			err  error
		)
		if showUsage {
			text, err = config.Usage()
		} else {
			text, err = config.String(cfg)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&showUsage, "usage", false, "List settings and environment variables")
}
