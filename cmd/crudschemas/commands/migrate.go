package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/cmd/crudschemas/output"
	"github.com/marshallshelly/crudschemas/cmd/crudschemas/tui"
	"github.com/marshallshelly/crudschemas/pkg/migration"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

var (
	// Migrate flags
	dryRun        bool
	all           bool
	steps         int
	target        string
	interactive   bool
	migrationName string
	empty         bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Generate and run database migrations",
	Long: `Keep the database in step with the qa, cinema and rental models.

Subcommands:
  generate - Write a migration from the difference between models and database
  up       - Apply pending migrations
  down     - Roll migrations back
  status   - Show migration status`,
}

var migrateGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate migration files",
	Long: `Introspect the selected schemas, compare them with the models and write
timestamped up/down SQL files to the migrations directory.

Examples:
  crudschemas migrate generate -n init                 # From schema diff
  crudschemas migrate generate -n add_wishlist -s rental
  crudschemas migrate generate -n backfill --empty     # Hand-written SQL`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateGenerate(cmd.Context())
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long: `Apply pending migrations. Each migration runs in its own transaction
under an advisory lock, so concurrent runners are safe.

Examples:
  crudschemas migrate up --all              # Apply all pending migrations
  crudschemas migrate up --steps 1          # Apply next migration
  crudschemas migrate up --dry-run --all    # Preview without applying
  crudschemas migrate up -i                 # Pick migrations interactively`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateUp(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback migrations",
	Long: `Rollback applied migrations, newest first.

Examples:
  crudschemas migrate down --steps 1        # Rollback last migration
  crudschemas migrate down --target VERSION # Rollback everything newer than VERSION
  crudschemas migrate down --dry-run        # Preview rollback without executing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateDown(cmd.Context())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrateStatus(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateGenerateCmd, migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	migrateGenerateCmd.Flags().StringVarP(&migrationName, "name", "n", "", "Migration name (required)")
	migrateGenerateCmd.Flags().BoolVar(&empty, "empty", false, "Generate empty migration for manual editing")
	_ = migrateGenerateCmd.MarkFlagRequired("name")

	migrateUpCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Run in interactive mode with TUI")
	migrateUpCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview migrations without applying")
	migrateUpCmd.Flags().BoolVar(&all, "all", false, "Apply all pending migrations")
	migrateUpCmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply")

	migrateDownCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Run in interactive mode with TUI")
	migrateDownCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview rollback without executing")
	migrateDownCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to rollback")
	migrateDownCmd.Flags().StringVar(&target, "target", "", "Rollback to specific version")
}

func runMigrateGenerate(ctx context.Context) error {
	generator := migration.NewGenerator(cfg.Migrations.Dir)

	if empty {
		file, err := generator.GenerateEmpty(migrationName)
		if err != nil {
			return fmt.Errorf("failed to generate empty migration: %w", err)
		}
		printGenerated(file)
		output.Info("Edit the SQL files manually to add your migration logic.")
		return nil
	}

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
	if !diff.HasChanges() {
		output.Info("No schema changes detected. Database is in sync with models.")
		return nil
	}

	output.Section("Detected Schema Changes")
	for _, change := range diff.Summary() {
		output.Change(change)
	}

	file, err := generator.Generate(migrationName, diff)
	if err != nil {
		return fmt.Errorf("failed to generate migration: %w", err)
	}
	printGenerated(file)
	output.Info("Review the generated SQL files before applying the migration.")
	return nil
}

func printGenerated(file *migration.MigrationFile) {
	_, _ = fmt.Fprintln(output.Out)
	output.Success("Created migration: %s", file.Version)
	output.Muted("  Up:   %s", file.UpPath)
	output.Muted("  Down: %s", file.DownPath)
}

// openExecutor connects and loads the migration files.
func openExecutor(ctx context.Context) (*runtime.DB, *migration.Executor, []migration.Migration, error) {
	db, err := connect(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	executor := migration.NewExecutor(db)
	if err := executor.Initialize(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	migrations, err := migration.NewGenerator(cfg.Migrations.Dir).LoadAll()
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return db, executor, migrations, nil
}

func runMigrateUp(ctx context.Context) error {
	db, executor, migrations, err := openExecutor(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(migrations) == 0 {
		output.Warning("No migrations found in %s", cfg.Migrations.Dir)
		return nil
	}
	if interactive {
		return tui.RunMigrateUI(tui.ActionUp, executor, migrations)
	}

	applied, err := executor.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedMap := make(map[string]bool, len(applied))
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	var toApply []migration.Migration
	switch {
	case all:
		for _, mig := range migrations {
			if !appliedMap[mig.Version] {
				toApply = append(toApply, mig)
			}
		}
	case steps > 0:
		for _, mig := range migrations {
			if appliedMap[mig.Version] {
				continue
			}
			toApply = append(toApply, mig)
			if len(toApply) >= steps {
				break
			}
		}
	default:
		return fmt.Errorf("must specify --all or --steps")
	}

	if len(toApply) == 0 {
		output.Info("No pending migrations")
		return nil
	}

	if dryRun {
		output.Section("DRY RUN - Preview")
		output.Info("The following migrations would be applied:")
		for _, mig := range toApply {
			_, _ = fmt.Fprintf(output.Out, "  %s %s - %s\n", output.StatusIcon("pending"), mig.Version, mig.Name)
		}
		return nil
	}

	output.Section("Applying Migrations")
	for _, mig := range toApply {
		entry := log.WithField("version", mig.Version).WithField("name", mig.Name)
		if err := executor.Apply(ctx, mig, false); err != nil {
			entry.WithError(err).Error("migration failed")
			output.Error("Failed to apply migration %s: %v", mig.Version, err)
			return fmt.Errorf("failed to apply migration %s: %w", mig.Version, err)
		}
		entry.Info("migration applied")
		output.Success("Applied %s - %s", mig.Version, mig.Name)
	}

	_, _ = fmt.Fprintln(output.Out)
	output.Success("Successfully applied %d migration(s)", len(toApply))
	return nil
}

func runMigrateDown(ctx context.Context) error {
	db, executor, migrations, err := openExecutor(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if interactive {
		return tui.RunMigrateUI(tui.ActionDown, executor, migrations)
	}

	if target != "" {
		if dryRun {
			output.Info("DRY RUN - Would rollback to version %s", target)
			return nil
		}
		output.Section("Rolling Back to Target Version")
		done, err := executor.RollbackTo(ctx, target, migrations, false)
		for _, v := range done {
			output.Success("Rolled back %s", v)
		}
		if err != nil {
			output.Error("Failed to rollback to %s: %v", target, err)
			return fmt.Errorf("failed to rollback to %s: %w", target, err)
		}
		output.Success("Rolled back to version %s", target)
		return nil
	}

	applied, err := executor.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	if len(applied) == 0 {
		output.Info("No migrations to rollback")
		return nil
	}

	toRollback := min(steps, len(applied))

	if dryRun {
		output.Section("DRY RUN - Preview")
		output.Info("The following migrations would be rolled back:")
		for i := len(applied) - 1; i >= len(applied)-toRollback; i-- {
			_, _ = fmt.Fprintf(output.Out, "  %s %s - %s\n", output.StatusIcon("applied"), applied[i].Version, applied[i].Name)
		}
		return nil
	}

	output.Section("Rolling Back Migrations")
	byVersion := make(map[string]migration.Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	for i := range toRollback {
		record := applied[len(applied)-1-i]
		mig, exists := byVersion[record.Version]
		if !exists {
			return fmt.Errorf("migration file not found for version %s", record.Version)
		}

		if err := executor.Rollback(ctx, mig, false); err != nil {
			output.Error("Failed to rollback migration %s: %v", mig.Version, err)
			return fmt.Errorf("failed to rollback migration %s: %w", mig.Version, err)
		}
		log.WithField("version", mig.Version).Info("migration rolled back")
		output.Success("Rolled back %s - %s", mig.Version, mig.Name)
	}

	_, _ = fmt.Fprintln(output.Out)
	output.Success("Successfully rolled back %d migration(s)", toRollback)
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	db, executor, migrations, err := openExecutor(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := executor.Validate(ctx, migrations); err != nil {
		output.Warning("%v", err)
	}

	status, err := executor.GetStatus(ctx, migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if len(status) == 0 {
		output.Warning("No migrations found in %s", cfg.Migrations.Dir)
		return nil
	}

	w := tabwriter.NewWriter(output.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t----------")

	counts := make(map[migration.MigrationStatus]int)
	for _, record := range status {
		appliedAt := "N/A"
		if record.AppliedAt != nil {
			appliedAt = record.AppliedAt.Format("2006-01-02 15:04:05")
		}
		counts[record.Status]++
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
			record.Version,
			record.Name,
			output.StatusIcon(string(record.Status)),
			record.Status,
			appliedAt,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(output.Out, "\nSummary: %d applied, %d pending", counts[migration.StatusApplied], counts[migration.StatusPending])
	if n := counts[migration.StatusFailed]; n > 0 {
		_, _ = fmt.Fprintf(output.Out, ", %d failed", n)
	}
	_, _ = fmt.Fprintln(output.Out)
	return nil
}
