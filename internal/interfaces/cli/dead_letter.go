package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/domain/integration"
)

func deadLetterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dead-letter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and resolve dead-lettered jobs",
	}
	cmd.AddCommand(dlqListCmd(a))
	cmd.AddCommand(dlqGetCmd(a))
	cmd.AddCommand(dlqStatsCmd(a))
	cmd.AddCommand(dlqResolveCmd(a))
	cmd.AddCommand(dlqBulkResolveCmd(a))
	cmd.AddCommand(dlqCleanupCmd(a))
	return cmd
}

func dlqListCmd(a *app) *cobra.Command {
	var (
		status      string
		marketplace string
		review      string
		olderThan   time.Duration
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := integration.DeadLetterFilter{Limit: limit, Offset: offset}
			if status != "" {
				s := integration.ResolutionStatus(status)
				if !s.IsValid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}
			if marketplace != "" {
				m := integration.MarketplaceID(marketplace)
				filter.Marketplace = &m
			}
			if review != "" {
				v, err := strconv.ParseBool(review)
				if err != nil {
					return fmt.Errorf("invalid --manual-review %q: %w", review, err)
				}
				filter.RequiresManualReview = &v
			}
			if olderThan > 0 {
				before := time.Now().Add(-olderThan)
				filter.CreatedBefore = &before
			}

			b, err := a.open()
			if err != nil {
				return err
			}
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			entries, total, err := admin.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == outputJSON {
				return printJSON(out, map[string]any{"total": total, "entries": entries})
			}
			t := newTable(out, "ID", "MARKETPLACE", "JOB TYPE", "CATEGORY", "ATTEMPTS", "REVIEW", "STATUS", "CREATED")
			for _, e := range entries {
				t.row(
					e.ID.String(),
					string(e.Marketplace),
					string(e.JobType),
					string(e.FinalCategory),
					strconv.Itoa(e.TotalAttempts),
					strconv.FormatBool(e.RequiresManualReview),
					string(e.ResolutionStatus),
					formatTime(e.CreatedAt),
				)
			}
			if err := t.flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d entries\n", len(entries), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(integration.ResolutionPending), "pending, resolved, discarded, or empty for all")
	cmd.Flags().StringVar(&marketplace, "marketplace", "", "only entries for this marketplace")
	cmd.Flags().StringVar(&review, "manual-review", "", "filter on the manual review flag (true or false)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only entries created at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func dlqGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one dead-letter entry with its failure history",
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
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			entry, err := admin.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == outputJSON {
				return printJSON(out, entry)
			}
			fmt.Fprintf(out, "ID:            %s\n", entry.ID)
			fmt.Fprintf(out, "Original job:  %s\n", entry.OriginalJobID)
			fmt.Fprintf(out, "Job type:      %s\n", entry.JobType)
			fmt.Fprintf(out, "Marketplace:   %s\n", entry.Marketplace)
			fmt.Fprintf(out, "User:          %s\n", orDash(entry.UserID))
			fmt.Fprintf(out, "Category:      %s\n", entry.FinalCategory)
			fmt.Fprintf(out, "Attempts:      %d\n", entry.TotalAttempts)
			fmt.Fprintf(out, "Manual review: %t\n", entry.RequiresManualReview)
			fmt.Fprintf(out, "Status:        %s\n", entry.ResolutionStatus)
			if entry.ResolutionAction != "" {
				fmt.Fprintf(out, "Action:        %s\n", entry.ResolutionAction)
				fmt.Fprintf(out, "Notes:         %s\n", orDash(entry.ResolutionNotes))
			}
			if entry.SpawnedJobID != nil {
				fmt.Fprintf(out, "Spawned job:   %s\n", entry.SpawnedJobID)
			}
			fmt.Fprintf(out, "Created:       %s\n", formatTime(entry.CreatedAt))

			if len(entry.FailureHistory) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			t := newTable(out, "ATTEMPT", "CATEGORY", "AT", "DETAIL")
			for _, f := range entry.FailureHistory {
				t.row(strconv.Itoa(f.Attempt), string(f.Category), formatTime(f.OccurredAt), truncate(f.Detail, 80))
			}
			return t.flush()
		},
	}
}

func dlqStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of pending entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open()
			if err != nil {
				return err
			}
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			pending, err := admin.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"pending": pending})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\n", pending)
			return nil
		},
	}
}

// resolveFlags are shared by resolve and bulk-resolve
type resolveFlags struct {
	action string
	notes  string
	patch  string
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.action, "action", "", "retry, modify_and_retry, discard or escalate")
	cmd.Flags().StringVar(&f.notes, "notes", "", "resolution notes")
	cmd.Flags().StringVar(&f.patch, "patch", "", "JSON object merged into the payload for modify_and_retry")
	_ = cmd.MarkFlagRequired("action")
}

func (f *resolveFlags) request(operator string) (deadletter.ResolveRequest, error) {
	action := integration.ResolutionAction(f.action)
	if !action.IsValid() {
		return deadletter.ResolveRequest{}, fmt.Errorf("%w: %q", integration.ErrInvalidResolutionAction, f.action)
	}
	req := deadletter.ResolveRequest{Action: action, Notes: f.notes}
	if operator != "" {
		req.Notes = "[" + operator + "] " + f.notes
	}
	if f.patch != "" {
		if err := json.Unmarshal([]byte(f.patch), &req.Patch); err != nil {
			return deadletter.ResolveRequest{}, fmt.Errorf("invalid --patch: %w", err)
		}
	}
	return req, nil
}

func dlqResolveCmd(a *app) *cobra.Command {
	var flags resolveFlags
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a pending dead-letter entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req, err := flags.request(a.operator)
			if err != nil {
				return err
			}
			b, err := a.open()
			if err != nil {
				return err
			}
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			result, err := admin.Resolve(cmd.Context(), id, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == outputJSON {
				return printJSON(out, result)
			}
			fmt.Fprintf(out, "%s %s (%s)\n", result.Entry.ID, result.Entry.ResolutionStatus, result.Entry.ResolutionAction)
			if result.SpawnedJob != nil {
				fmt.Fprintf(out, "spawned job %s\n", result.SpawnedJob.ID)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func dlqBulkResolveCmd(a *app) *cobra.Command {
	var flags resolveFlags
	cmd := &cobra.Command{
		Use:   "bulk-resolve <id>...",
		Short: "Resolve many entries with the same action",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			req, err := flags.request(a.operator)
			if err != nil {
				return err
			}
			b, err := a.open()
			if err != nil {
				return err
			}
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			result, err := admin.BulkResolve(cmd.Context(), ids, req)
			if result == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == outputJSON {
				if perr := printJSON(out, result); perr != nil {
					return perr
				}
				return err
			}
			fmt.Fprintf(out, "resolved %d, failed %d\n", len(result.Resolved), len(result.Failed))
			if len(result.Failed) > 0 {
				t := newTable(out, "ID", "ERROR")
				for id, msg := range result.Failed {
					t.row(id.String(), msg)
				}
				if ferr := t.flush(); ferr != nil {
					return ferr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func dlqCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Discard pending entries past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open()
			if err != nil {
				return err
			}
			admin, err := b.DeadLetters()
			if err != nil {
				return err
			}
			result, err := admin.AutoCleanup(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %d, archived %d, failed %d\n", result.Discarded, result.Archived, result.Failed)
			return nil
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
