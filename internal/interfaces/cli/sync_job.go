package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosslist/backend/internal/domain/integration"
)

func syncJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-job",
		Short: "Inspect sale-driven sync jobs",
	}
	cmd.AddCommand(syncJobShowCmd(a))
	return cmd
}

func syncJobShowCmd(a *app) *cobra.Command {
	var audit bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sync job with per-marketplace outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			b, err := a.open()
			if err != nil {
				return err
			}
			reader, err := b.SyncJobs()
			if err != nil {
				return err
			}
			job, err := reader.GetSyncJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			var trail []integration.AuditRecord
			if audit {
				if trail, err = reader.AuditTrail(cmd.Context(), id); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.output == outputJSON {
				v := map[string]any{"sync_job": job}
				if audit {
					v["audit"] = trail
				}
				return printJSON(out, v)
			}

			fmt.Fprintf(out, "ID:         %s\n", job.ID)
			fmt.Fprintf(out, "Listing:    %s\n", job.ListingID)
			fmt.Fprintf(out, "Sold on:    %s at %s\n", job.SoldMarketplace, job.SalePrice.StringFixed(2))
			fmt.Fprintf(out, "Status:     %s\n", job.Status)
			fmt.Fprintf(out, "Started:    %s\n", formatTime(job.StartedAt))
			if job.CompletedAt != nil {
				fmt.Fprintf(out, "Completed:  %s\n", formatTime(*job.CompletedAt))
			}
			fmt.Fprintln(out)
			t := newTable(out, "MARKETPLACE", "EXTERNAL ID", "STATUS", "CATEGORY", "RETRY JOB", "ERROR")
			for _, op := range job.Operations {
				retry := "-"
				if op.RetryJobID != nil {
					retry = op.RetryJobID.String()
				}
				t.row(string(op.Marketplace), op.ExternalID, string(op.Status), orDash(string(op.Category)), retry, orDash(truncate(op.Error, 60)))
			}
			if err := t.flush(); err != nil {
				return err
			}

			if !audit {
				return nil
			}
			fmt.Fprintln(out)
			t = newTable(out, "AT", "TARGET", "ACTION", "FROM", "TO", "ERROR")
			for _, r := range trail {
				t.row(formatTime(r.CreatedAt), string(r.TargetMarketplace), string(r.Action), string(r.PriorStatus), string(r.NewStatus), orDash(truncate(r.Error, 60)))
			}
			return t.flush()
		},
	}
	cmd.Flags().BoolVar(&audit, "audit", false, "include the status change audit trail")
	return cmd
}
