package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/cmd/crudschemas/output"
	"github.com/marshallshelly/crudschemas/pkg/migration"
)

// errDrift makes the process exit with status 2.
var errDrift = errors.New("database schema differs from models")

var (
	verifyShowSQL    bool
	verifyOutputFile string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the database for schema drift",
	Long: `Compare the models with the live database and list every difference:
missing schemas, tables, columns, enum values, indexes, foreign keys and
CHECK/UNIQUE constraints. Exits with status 2 when the database drifted.

Examples:
  crudschemas verify                   # All schemas
  crudschemas verify -s qa --sql       # Include the SQL that would fix it
  crudschemas verify --json            # Machine readable diff
  crudschemas verify -o fix.sql        # Save the fix SQL`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&verifyShowSQL, "sql", false, "Print the up and down SQL of the diff")
	verifyCmd.Flags().StringVarP(&verifyOutputFile, "output", "o", "", "Write the up SQL to file")
}

func runVerify(ctx context.Context) error {
	tables, namespaces, err := codeTables(schemaNames)
	if err != nil {
		return err
	}

	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	dbSchema, err := migration.NewIntrospector(db).IntrospectSchema(ctx, namespaces...)
	if err != nil {
		return fmt.Errorf("failed to introspect database: %w", err)
	}
	diff, err := migration.NewDiffer().Compare(tables, dbSchema)
	if err != nil {
		return fmt.Errorf("failed to compare schemas: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diff); err != nil {
			return err
		}
		if diff.HasChanges() {
			return errDrift
		}
		return nil
	}

	if !diff.HasChanges() {
		output.Success("No drift: %v in sync with models (%d tables)", namespaces, len(tables))
		return nil
	}

	changes := diff.Summary()
	log.WithField("schemas", namespaces).WithField("changes", len(changes)).Warn("schema drift detected")
	output.Section("Schema Drift")
	for _, change := range changes {
		output.Change(change)
	}

	up, down := migration.NewPlanner().GenerateMigration(diff)
	if verifyShowSQL {
		output.Section("Fix SQL (UP)")
		output.SQL(up)
		output.Section("Revert SQL (DOWN)")
		output.SQL(down)
	}
	if verifyOutputFile != "" {
		if err := os.WriteFile(verifyOutputFile, []byte(up), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, _ = fmt.Fprintln(output.Out)
		output.Success("SQL saved to: %s", verifyOutputFile)
	}

	_, _ = fmt.Fprintln(output.Out)
	output.Warning("%d difference(s); run `crudschemas migrate generate` to capture them", len(changes))
	return errDrift
}
