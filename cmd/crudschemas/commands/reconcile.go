package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/cmd/crudschemas/output"
	"github.com/marshallshelly/crudschemas/internal/cinema"
)

var showtimeID int64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile-seats",
	Short: "Repair cinema seat counters",
	Long: `Recompute available_seats of cinema showtimes from their non-cancelled
bookings and fix every counter that disagrees.

Examples:
  crudschemas reconcile-seats                  # Every showtime
  crudschemas reconcile-seats --showtime 42    # One showtime`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Int64Var(&showtimeID, "showtime", 0, "Only this showtime (0 for all)")
}

func runReconcile(ctx context.Context) error {
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ratings, closeCache, err := ratingCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()
	pub, closePub, err := publisher()
	if err != nil {
		return err
	}
	defer closePub()

	store := cinema.NewStore(db, log, pub, ratings).WithRatingTTL(cfg.Redis.TTL)
	fixed, err := store.ReconcileSeats(ctx, showtimeID)
	if err != nil {
		return err
	}
	if fixed == 0 {
		output.Success("All seat counters match their bookings")
		return nil
	}
	output.Warning("Fixed %d seat counter(s)", fixed)
	return nil
}
