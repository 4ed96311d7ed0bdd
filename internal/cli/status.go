package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// statusReport is the JSON shape of the status command.
type statusReport struct {
	Entities []model.EntityStatus `json:"entities"`
	Runs     []model.SyncRun      `json:"runs"`
}

// NewStatusCommand prints watermarks, record counts and recent runs from the
// local store. It makes no remote calls.
func NewStatusCommand(root *RootOptions) *cobra.Command {
	var (
		entities []string
		runs     int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watermarks, record counts and recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := entitiesOrConfigured(root.cfg, entities)
			if err != nil {
				return err
			}

			a, err := openApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := buildStatus(commandContext(cmd), a, types, runs)
			if err != nil {
				return err
			}
			if root.Format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return printStatus(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "entity type to report (repeatable)")
	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to show")
	return cmd
}

func buildStatus(ctx context.Context, a *app, types []model.EntityType, runLimit int) (*statusReport, error) {
	report := &statusReport{Entities: []model.EntityStatus{}, Runs: []model.SyncRun{}}

	for _, entity := range types {
		wm, err := a.watermarks.Get(ctx, entity)
		if err != nil {
			return nil, err
		}
		n, err := a.records.Count(ctx, entity)
		if err != nil {
			return nil, err
		}
		state := model.StateIdle
		if wm != nil {
			state = model.StateCompleted
		}
		report.Entities = append(report.Entities, model.EntityStatus{
			EntityType: entity,
			State:      state,
			Records:    n,
			Watermark:  wm,
		})
	}

	if runLimit > 0 {
		var entity model.EntityType
		if len(types) == 1 {
			entity = types[0]
		}
		runs, err := a.runs.List(ctx, entity, runLimit)
		if err != nil {
			return nil, err
		}
		if runs != nil {
			report.Runs = runs
		}
	}
	return report, nil
}

func printStatus(w io.Writer, report *statusReport) error {
	rows := make([][]string, 0, len(report.Entities))
	for _, s := range report.Entities {
		last, mode, synced := "never", "-", "-"
		if s.Watermark != nil {
			last = s.Watermark.LastSuccessfulSyncAt.Format(time.RFC3339)
			mode = string(model.SyncModeIncremental)
			if s.Watermark.IsFullSync {
				mode = string(model.SyncModeFull)
			}
			synced = strconv.Itoa(s.Watermark.RecordsSynced)
		}
		rows = append(rows, []string{string(s.EntityType), strconv.Itoa(s.Records), last, mode, synced})
	}
	if err := table(w, []string{"ENTITY", "RECORDS", "LAST SUCCESS", "LAST MODE", "LAST SYNCED"}, rows); err != nil {
		return err
	}

	if len(report.Runs) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	rows = rows[:0]
	for _, r := range report.Runs {
		rows = append(rows, []string{
			r.ID,
			string(r.EntityType),
			string(r.Mode),
			string(r.Status),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Failed),
			r.StartedAt.Format(time.RFC3339),
			r.Error,
		})
	}
	return table(w, []string{"RUN", "ENTITY", "MODE", "STATUS", "PROCESSED", "FAILED", "STARTED", "ERROR"}, rows)
}
