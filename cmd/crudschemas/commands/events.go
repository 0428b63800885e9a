package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/crudschemas/cmd/crudschemas/output"
	"github.com/marshallshelly/crudschemas/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events [pattern]",
	Short: "Tail domain events from NATS",
	Long: `Subscribe to the domain events the stores publish (booking.created,
booking.confirmed, question.asked, review.posted, ...) and print them until
interrupted. The pattern accepts NATS wildcards and defaults to ">".

Examples:
  crudschemas events                   # Everything
  crudschemas events 'booking.*'       # Booking lifecycle only`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ">"
		if len(args) == 1 {
			pattern = args[0]
		}
		return runEvents(cmd.Context(), pattern)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(ctx context.Context, pattern string) error {
	if cfg.NATS.URL == "" {
		return fmt.Errorf("no NATS server configured (set CRUDSCHEMAS_NATS_URL)")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := events.NewNATS(cfg.NATS.URL, cfg.NATS.Prefix)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	sub, err := n.Subscribe(pattern, func(env events.Envelope) {
		if jsonOutput {
			_ = encodeJSON(env)
			return
		}
		output.Info("%s %s %s", env.OccurredAt.Format("15:04:05"), env.Subject, env.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.Subject(pattern), err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	output.Muted("Listening on %s (ctrl+c to stop)", n.Subject(pattern))
	<-ctx.Done()
	return nil
}
