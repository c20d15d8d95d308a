package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/bazaar/internal/clock"
	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/internal/journal"
	"github.com/Additional-Code/bazaar/internal/logger"
	repositoryorder "github.com/Additional-Code/bazaar/internal/repository/order"
	"github.com/Additional-Code/bazaar/internal/snapshot"
	"github.com/Additional-Code/bazaar/pkg/numfmt"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the durable order file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Load the snapshot offline and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				persister *snapshot.Persister
				repo      *repositoryorder.Repository
			)
			opts := fx.Options(
				config.Module,
				logger.Module,
				fx.Provide(repositoryorder.NewRepository),
				snapshot.Module,
				fx.Populate(&persister, &repo),
			)
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				report, err := persister.RestoreAll(ctx)
				if err != nil {
					return err
				}
				writeSnapshotSummary(cmd.OutOrStdout(), persister.Path(), report, repo.List(repositoryorder.Filter{}))
				return nil
			})
		},
	})
	return cmd
}

type resourceSummary struct {
	active    int
	completed int
	remaining int64
	escrow    float64
}

func writeSnapshotSummary(out io.Writer, path string, report snapshot.RestoreReport, orders []entity.Order) {
	fmt.Fprintf(out, "file:     %s\n", path)
	fmt.Fprintf(out, "restored: %d\n", report.Restored)
	fmt.Fprintf(out, "skipped:  %d\n", report.Skipped)
	fmt.Fprintf(out, "next id:  %d\n", report.NextID)
	if len(orders) == 0 {
		return
	}

	byResource := make(map[string]*resourceSummary)
	for _, o := range orders {
		s, ok := byResource[o.ResourceType]
		if !ok {
			s = &resourceSummary{}
			byResource[o.ResourceType] = s
		}
		if o.Status == entity.StatusActive {
			s.active++
			s.remaining += o.RemainingQuantity
			s.escrow += float64(o.RemainingQuantity) * o.PricePerUnit
		} else {
			s.completed++
		}
	}
	names := make([]string, 0, len(byResource))
	for name := range byResource {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tACTIVE\tCOMPLETED\tREMAINING\tOPEN ESCROW")
	for _, name := range names {
		s := byResource[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", name, s.active, s.completed, numfmt.CompactInt(s.remaining), numfmt.Compact(s.escrow))
	}
	tw.Flush()
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Review payouts the currency ledger refused",
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending credit failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), func(_ context.Context, j *journal.Journal, _ clock.Clock) error {
				state := journal.StatePending
				if all {
					state = ""
				}
				entries, err := j.List(state)
				if err != nil {
					return err
				}
				writeJournal(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "Include resolved entries")

	resolveCmd := &cobra.Command{
		Use:   "resolve <seq>",
		Short: "Mark a credit failure as settled by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence %q: %w", args[0], err)
			}
			return withJournal(cmd.Context(), func(_ context.Context, j *journal.Journal, clk clock.Clock) error {
				e, err := j.Resolve(seq, clk.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved #%d: order %d, %s owed to %s\n", e.Seq, e.OrderID, numfmt.Compact(e.Amount), e.Deliverer)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

// withJournal opens the journal outside the server. Pebble holds a directory lock, so
// this fails while the ledger is running.
func withJournal(ctx context.Context, fn func(context.Context, *journal.Journal, clock.Clock) error) error {
	var (
		j   *journal.Journal
		clk clock.Clock
	)
	opts := fx.Options(
		config.Module,
		logger.Module,
		clock.Module,
		journal.Module,
		fx.Populate(&j, &clk),
	)
	return runWithApp(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, j, clk)
	})
}

func writeJournal(out io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no entries")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tORDER\tDELIVERER\tQTY\tAMOUNT\tSTATE\tRECORDED\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Seq, e.OrderID, e.Deliverer, e.Quantity, numfmt.Compact(e.Amount), e.State,
			e.RecordedAt.Format(time.RFC3339), e.Reason)
	}
	tw.Flush()
}
