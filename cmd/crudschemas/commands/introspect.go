package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/cmd/crudschemas/output"
	"github.com/marshallshelly/crudschemas/pkg/migration"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

var tableName string

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Show the tables of a live database",
	Long: `Read the selected schemas from pg_catalog and print their tables with
columns, keys, indexes and constraints, as the database sees them.

Examples:
  crudschemas introspect                     # Summary of every schema
  crudschemas introspect -t cinema.bookings  # One table in detail
  crudschemas introspect -s rental --json    # JSON output`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIntrospect(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(introspectCmd)

	introspectCmd.Flags().StringVarP(&tableName, "table", "t", "", "Schema-qualified table to show, e.g. qa.users")
}

func runIntrospect(ctx context.Context) error {
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	introspector := migration.NewIntrospector(db)

	if tableName != "" {
		namespace, name, ok := strings.Cut(tableName, ".")
		if !ok {
			return fmt.Errorf("--table must be schema-qualified, e.g. qa.users")
		}
		table, err := introspector.IntrospectTable(ctx, namespace, name)
		if err != nil {
			return fmt.Errorf("failed to introspect table %s: %w", tableName, err)
		}
		if jsonOutput {
			return encodeJSON(table)
		}
		printTable(output.Out, table)
		return nil
	}

	namespaces, err := selectedSchemas(schemaNames)
	if err != nil {
		return err
	}
	tables, err := introspector.IntrospectSchema(ctx, namespaces...)
	if err != nil {
		return fmt.Errorf("failed to introspect schema: %w", err)
	}
	if len(tables) == 0 {
		output.Warning("No tables found in %s", strings.Join(namespaces, ", "))
		return nil
	}
	if jsonOutput {
		return encodeJSON(tables)
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	output.Section(fmt.Sprintf("Database Schema (%d tables)", len(tables)))
	for _, name := range names {
		printTableSummary(output.Out, tables[name])
		_, _ = fmt.Fprintln(output.Out)
	}
	return nil
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, table *schema.TableMetadata) {
	title := "Table: " + table.QualifiedName()
	_, _ = fmt.Fprintln(w, title)
	_, _ = fmt.Fprintln(w, strings.Repeat("=", len(title)))
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "Columns:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tNULLABLE\tDEFAULT")
	_, _ = fmt.Fprintln(tw, "----\t----\t--------\t-------")
	for _, col := range table.Columns {
		nullable := "NO"
		if col.Nullable {
			nullable = "YES"
		}
		def := "NULL"
		switch {
		case col.Identity != nil:
			def = "IDENTITY " + string(col.Identity.Generation)
		case col.Default != nil:
			def = *col.Default
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", col.Name, col.SQLType, nullable, def)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintln(w)

	if table.PrimaryKey != nil {
		_, _ = fmt.Fprintf(w, "Primary Key: %s (%s)\n\n", table.PrimaryKey.Name, strings.Join(table.PrimaryKey.Columns, ", "))
	}

	if len(table.ForeignKeys) > 0 {
		_, _ = fmt.Fprintln(w, "Foreign Keys:")
		for _, fk := range table.ForeignKeys {
			_, _ = fmt.Fprintf(w, "  %s: (%s) -> %s(%s)",
				fk.Name,
				strings.Join(fk.Columns, ", "),
				fk.ReferencedTable,
				strings.Join(fk.ReferencedColumns, ", "),
			)
			if fk.OnDelete != "" {
				_, _ = fmt.Fprintf(w, " ON DELETE %s", fk.OnDelete)
			}
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(w, "Indexes:")
		for _, idx := range table.Indexes {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			_, _ = fmt.Fprintf(w, "  %s%s (%s)\n", unique, idx.Name, strings.Join(idx.Columns, ", "))
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(table.Constraints) > 0 {
		_, _ = fmt.Fprintln(w, "Constraints:")
		for _, c := range table.Constraints {
			body := c.Expression
			if c.Type == schema.UniqueConstraint {
				body = "UNIQUE (" + strings.Join(c.Columns, ", ") + ")"
			}
			_, _ = fmt.Fprintf(w, "  %s: %s\n", c.Name, body)
		}
	}

	if len(table.EnumTypes) > 0 {
		_, _ = fmt.Fprintln(w, "\nEnum Types:")
		for _, e := range table.EnumTypes {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", e.QualifiedName(), strings.Join(e.Values, " | "))
		}
	}
}

func printTableSummary(w io.Writer, table *schema.TableMetadata) {
	_, _ = fmt.Fprintf(w, "Table: %s\n", table.QualifiedName())
	_, _ = fmt.Fprintf(w, "  Columns: %d\n", len(table.Columns))
	if table.PrimaryKey != nil {
		_, _ = fmt.Fprintf(w, "  Primary Key: %s\n", strings.Join(table.PrimaryKey.Columns, ", "))
	}
	if len(table.ForeignKeys) > 0 {
		_, _ = fmt.Fprintf(w, "  Foreign Keys: %d\n", len(table.ForeignKeys))
	}
	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintf(w, "  Indexes: %d\n", len(table.Indexes))
	}
	if len(table.Constraints) > 0 {
		_, _ = fmt.Fprintf(w, "  Constraints: %d\n", len(table.Constraints))
	}
}
