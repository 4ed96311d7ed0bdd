package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PDI-Technologies/ns-sub003/internal/application"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Full     bool
	DryRun   bool
	Limit    int
	Entities []string
}

// NewSyncCommand runs one pass per entity type and exits.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass for each entity type",
		Long: `Run one sync pass for each configured entity type (or those named with
--entity). A pass is incremental from the last watermark unless --full is
given or no watermark exists yet.`,
		Example: `  nssync sync
  nssync sync --entity vendor --full
  nssync sync --dry-run --limit 25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Limit < 0 {
				return &ExitError{Code: ExitUsage, Err: errors.New("--limit must not be negative")}
			}
			return runSync(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore the watermark and list every record")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list and fetch without writing anything")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many records per entity type (0 = no limit)")
	cmd.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "entity type to sync (repeatable)")

	return cmd
}

func runSync(cmd *cobra.Command, root *RootOptions, opts *SyncOptions) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entities, err := entitiesOrConfigured(root.cfg, opts.Entities)
	if err != nil {
		return err
	}

	a, err := openApp(root.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.syncService(ctx)
	if err != nil {
		return err
	}

	req := application.SyncRequest{Full: opts.Full, DryRun: opts.DryRun, Limit: opts.Limit}
	var results []*model.SyncResult
	var errs []error
	for _, entity := range entities {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := svc.Sync(ctx, entity, req)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", entity, err))
		}
	}

	if err := printResults(cmd.OutOrStdout(), root.Format, results); err != nil {
		return err
	}
	if len(errs) > 0 {
		return &ExitError{Code: ExitFailure, Err: errors.Join(errs...)}
	}
	return nil
}

func printResults(w io.Writer, format string, results []*model.SyncResult) error {
	if format == FormatJSON {
		if results == nil {
			results = []*model.SyncResult{}
		}
		return writeJSON(w, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		rows = append(rows, []string{
			string(r.EntityType),
			string(r.Mode),
			status,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Deleted),
			strconv.Itoa(len(r.Failures)),
			r.Duration().Round(time.Millisecond).String(),
		})
	}
	if err := table(w, []string{"ENTITY", "MODE", "STATUS", "PROCESSED", "SKIPPED", "DELETED", "FAILED", "DURATION"}, rows); err != nil {
		return err
	}

	for _, r := range results {
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s %s: %s\n", r.EntityType, f.ID, f.Message)
		}
	}
	return nil
}

// commandContext returns the command's context, or Background when run
// outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
