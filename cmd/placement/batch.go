package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create, inspect and reset batches",
	}
	cmd.AddCommand(newBatchCreateCmd())
	cmd.AddCommand(newBatchListCmd())
	cmd.AddCommand(newBatchShowCmd())
	cmd.AddCommand(newBatchDeleteCmd())
	return cmd
}

func newBatchCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <customer> <batch> <roster.csv|roster.xlsx>",
		Short: "Create a batch from a roster file",
		Long: `Create a batch from a CSV or XLSX roster with the columns
from_name, from_email, user_name, password and smtp_host.

The roster is stored with the batch and never re-read from the file.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			batch, err := a.batches.CreateFromFile(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created batch %s/%s with %d accounts\n", batch.Customer, batch.Name, len(batch.Roster))
			return nil
		},
	}
}

func newBatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <customer>",
		Short: "List a customer's batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			batches, err := a.batches.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tACCOUNTS\tPROCESSED\tRUNS\tCREATED")
			for _, b := range batches {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", b.Name, len(b.Roster), b.DomainsProcessed, b.RunCount, b.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newBatchShowCmd() *cobra.Command {
	var showRecords bool

	cmd := &cobra.Command{
		Use:   "show <customer> <batch>",
		Short: "Show progress and results of a batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.batches.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			b := status.Batch
			fmt.Fprintf(out, "batch %s/%s\n", b.Customer, b.Name)
			fmt.Fprintf(out, "  processed: %d/%d over %d runs\n", b.DomainsProcessed, len(b.Roster), b.RunCount)
			printSummary(out, status.Summary)

			if !showRecords {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nFROM\tSTATUS\tTEST\tPROVIDER\tOUTCOME\tNOTE")
			for _, r := range status.Records {
				var provider, outcome, note string
				if r.Result != nil {
					provider, outcome = r.Result.Provider.String(), r.Result.Outcome.String()
				}
				if r.Failure != nil {
					note = r.Failure.Reason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Account.FromEmail, r.Status, r.TestID(), provider, outcome, note)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&showRecords, "records", false, "List every record of the batch")
	return cmd
}

func newBatchDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <customer> <batch>",
		Short: "Reset a batch by deleting it and all of its records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("%w: deleting %s/%s discards all results, pass --force to confirm", domain.ErrValidation, args[0], args[1])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.batches.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted batch %s/%s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm the deletion")
	return cmd
}
