package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/jobs"
)

// ProcurementOps is the part of procurement.Service the CLI drives.
type ProcurementOps interface {
	Import(ctx context.Context, wb procurement.Workbook) (procurement.ImportSummary, error)
	ForceClosePO(ctx context.Context, poID int64) (procurement.PurchaseOrder, error)
	UpdatePOStatusFromCumulative(ctx context.Context, poID int64) (procurement.SweepResult, error)
	SweepOpenPOs(ctx context.Context, concurrency int) (procurement.SweepSummary, error)
}

// JobOps is the queue surface of JobsCLI.
type JobOps interface {
	Trigger(ctx context.Context, name string, retention time.Duration) (string, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	Close() error
}

// Runtime opens backends lazily so that --help and dry runs never dial postgres or redis.
type Runtime struct {
	Out             io.Writer
	OpenProcurement func(ctx context.Context) (ProcurementOps, func(), error)
	OpenJobs        func() (JobOps, error)
}

// NewRootCommand assembles the p2pctl command tree.
func NewRootCommand(rt Runtime) *cobra.Command {
	if rt.Out == nil {
		rt.Out = os.Stdout
	}
	root := &cobra.Command{
		Use:           "p2pctl",
		Short:         "Operate the PO/invoice reconciliation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(rt.Out)
	root.AddCommand(importCommand(rt), poCommand(rt), jobsCommand(rt))
	return root
}

func importCommand(rt Runtime) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Import PO, GRN and ASN sheets from a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			wb, err := procurement.ParseWorkbook(f)
			if err != nil {
				return err
			}
			if dryRun {
				return printJSON(rt.Out, map[string]int{
					"orders": len(wb.Orders),
					"grns":   len(wb.GRNs),
					"asns":   len(wb.ASNs),
				})
			}
			svc, done, err := rt.OpenProcurement(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			summary, err := svc.Import(cmd.Context(), wb)
			if err != nil {
				return err
			}
			return printJSON(rt.Out, summary)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and count rows without writing")
	return cmd
}

func poCommand(rt Runtime) *cobra.Command {
	po := &cobra.Command{Use: "po", Short: "Purchase order maintenance"}

	forceClose := &cobra.Command{
		Use:   "force-close <po-id>",
		Short: "Mark a PO fulfilled regardless of quantities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, done, err := rt.OpenProcurement(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			order, err := svc.ForceClosePO(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(rt.Out, order)
		},
	}

	var all bool
	var concurrency int
	sweep := &cobra.Command{
		Use:   "sweep [po-id]",
		Short: "Re-check cumulative GRN/invoice quantities for one PO or every open PO",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a PO id or --all")
			}
			svc, done, err := rt.OpenProcurement(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			if all {
				summary, err := svc.SweepOpenPOs(cmd.Context(), concurrency)
				if err != nil {
					return err
				}
				return printJSON(rt.Out, summary)
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.UpdatePOStatusFromCumulative(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(rt.Out, res)
		},
	}
	sweep.Flags().BoolVar(&all, "all", false, "sweep every PO that is not fulfilled")
	sweep.Flags().IntVar(&concurrency, "concurrency", 4, "parallel POs when sweeping with --all")

	po.AddCommand(forceClose, sweep)
	return po
}

func jobsCommand(rt Runtime) *cobra.Command {
	root := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	var retention time.Duration
	trigger := &cobra.Command{
		Use:       "trigger <task-type>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskPOSweep, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := rt.OpenJobs()
			if err != nil {
				return err
			}
			defer ops.Close()
			id, err := ops.Trigger(cmd.Context(), args[0], retention)
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintf(rt.Out, "%s already queued\n", args[0])
				return nil
			}
			fmt.Fprintf(rt.Out, "enqueued %s as %s\n", args[0], id)
			return nil
		},
	}
	trigger.Flags().DurationVar(&retention, "retention", jobs.DefaultIdempotencyRetention, "idempotency key retention for cleanup")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := rt.OpenJobs()
			if err != nil {
				return err
			}
			defer ops.Close()
			s, err := ops.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(rt.Out, s)
		},
	}

	root.AddCommand(trigger, stats)
	return root
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
