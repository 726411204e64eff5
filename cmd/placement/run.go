package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/service"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var maxCount int

	cmd := &cobra.Command{
		Use:   "submit <customer> <batch>",
		Short: "Register tests and send probes for the next pending accounts",
		Long: `Submit processes pending accounts of a batch in roster order, up to the
per-run cap. Accounts that fail transiently stay pending and are retried by the
next run; accounts already submitted are never sent again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.submitter.Submit(cmd.Context(), args[0], args[1], maxCount)
			if report != nil {
				printSubmitReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&maxCount, "max", 0, "Submit at most this many accounts (0 uses the configured per-run cap)")
	return cmd
}

func newPollCmd() *cobra.Command {
	var (
		auto     bool
		interval time.Duration
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "poll <customer> <batch>",
		Short: "Fetch results for submitted tests",
		Long: `Poll fetches the current result of every submitted test once. With --auto it
keeps polling every --interval until no submitted test is unresolved, the
--deadline passes or the command is interrupted. Results merged so far are
always kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !auto {
				unresolved, err := a.poller.Poll(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d submitted tests still unresolved\n", unresolved)
				return nil
			}

			if interval <= 0 {
				interval = a.cfg.PollInterval()
			}
			unresolved, err := a.poller.AutoPoll(cmd.Context(), args[0], args[1], interval, deadline)
			var timeoutErr *service.PollTimeoutError
			switch {
			case errors.As(err, &timeoutErr):
				fmt.Fprintf(out, "deadline reached with %d records unresolved; run poll again to resume\n", timeoutErr.Unresolved)
				return err
			case cmd.Context().Err() != nil && errors.Is(err, cmd.Context().Err()):
				fmt.Fprintln(out, "polling stopped; merged results are kept")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "polling finished, %d unresolved\n", unresolved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "Keep polling until resolved")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between polls (defaults to POLL_INTERVAL_SECONDS)")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Give up auto-polling after this long (0 waits indefinitely)")
	return cmd
}

func newReportCmd() *cobra.Command {
	var export bool

	cmd := &cobra.Command{
		Use:   "report <customer> [batch]",
		Short: "Summarize results for a batch or for all of a customer's batches",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, out := cmd.Context(), cmd.OutOrStdout()
			var files []string

			if len(args) == 2 {
				summary, err := a.reporter.Summarize(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "batch %s/%s\n", args[0], args[1])
				printSummary(out, *summary)
				if export {
					if files, err = a.reporter.Export(ctx, args[0], args[1]); err != nil {
						return err
					}
				}
			} else {
				combined, err := a.reporter.SummarizeCustomer(ctx, args[0])
				if err != nil {
					return err
				}
				for _, b := range combined.Batches {
					fmt.Fprintf(out, "batch %s\n", b.Batch)
					printSummary(out, b.Summary)
				}
				fmt.Fprintf(out, "customer %s (all batches)\n", combined.Customer)
				printSummary(out, combined.Aggregate)
				if export {
					if files, err = a.reporter.ExportCustomer(ctx, args[0]); err != nil {
						return err
					}
				}
			}

			for _, f := range files {
				fmt.Fprintf(out, "wrote %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&export, "export", true, "Write the CSV and XLSX report files")
	return cmd
}

func printSubmitReport(out io.Writer, r *service.SubmitReport) {
	if r.RunNumber == 0 && r.Attempted == 0 {
		fmt.Fprintln(out, "nothing to submit, every account has been processed")
		return
	}

	fmt.Fprintf(out, "run %d: %d attempted, %d submitted, %d failed", r.RunNumber, r.Attempted, len(r.Submitted), len(r.Failed))
	if r.Skipped > 0 {
		fmt.Fprintf(out, ", %d skipped", r.Skipped)
	}
	fmt.Fprintf(out, ", %d remaining\n", r.Remaining)

	for _, f := range r.Failed {
		fmt.Fprintf(out, "  - %v\n", f)
	}
	if r.Remaining > 0 {
		fmt.Fprintln(out, "run submit again to continue with the remaining accounts")
	}
}

func printSummary(out io.Writer, s domain.Summary) {
	fmt.Fprintf(out, "  tests: %d total, %d completed, %d pending (%d in flight), %d failed\n",
		s.Total, s.Completed, s.Pending, s.Submitted, s.Failed)
	if s.Completed == 0 {
		fmt.Fprintln(out, "  no completed results yet")
		return
	}
	fmt.Fprintf(out, "  inbox rate: %5.1f%% [%s]\n", s.InboxRate*100, s.InboxBand())
	fmt.Fprintf(out, "  spam rate:  %5.1f%% [%s]\n", s.SpamRate*100, s.SpamBand())

	providers := make([]domain.Provider, 0, len(s.PerProvider))
	for p := range s.PerProvider {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	for _, p := range providers {
		stats := s.PerProvider[p]
		fmt.Fprintf(out, "  %-9s inbox %5.1f%% spam %5.1f%% (%d samples)\n", p, stats.InboxRate*100, stats.SpamRate*100, stats.SampleCount)
	}
}
