package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/pkg/migration"
)

var (
	ddlDown       bool
	ddlOutputFile string
)

var ddlCmd = &cobra.Command{
	Use:   "ddl",
	Short: "Print the CREATE script of the schemas",
	Long: `Render the complete DDL of the selected schemas: CREATE SCHEMA, enum types,
tables with their named constraints, indexes and updated_at triggers.

No database is needed.

Examples:
  crudschemas ddl                      # All schemas
  crudschemas ddl -s cinema            # One schema
  crudschemas ddl --down               # DROP script, reverse dependency order
  crudschemas ddl -o schema.sql        # Write to a file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDDL(cmd)
	},
}

func init() {
	rootCmd.AddCommand(ddlCmd)

	ddlCmd.Flags().BoolVar(&ddlDown, "down", false, "Print the DROP script instead")
	ddlCmd.Flags().StringVarP(&ddlOutputFile, "output", "o", "", "Write SQL to file")
}

func runDDL(cmd *cobra.Command) error {
	tables, _, err := codeTables(schemaNames)
	if err != nil {
		return err
	}
	up, down, err := migration.NewPlanner().CreateAll(tables)
	if err != nil {
		return fmt.Errorf("failed to plan schema: %w", err)
	}
	script := up
	if ddlDown {
		script = down
	}

	if ddlOutputFile != "" {
		if err := os.WriteFile(ddlOutputFile, []byte(script), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.WithField("file", ddlOutputFile).WithField("tables", len(tables)).Info("ddl written")
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), script)
	return err
}
