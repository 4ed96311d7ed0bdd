package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// DefaultPurgeAge is how long a deprecated custom field is kept by default.
const DefaultPurgeAge = 90 * 24 * time.Hour

// NewPurgeCommand drops deprecated custom-field snapshots last seen before a
// cutoff. It never runs as part of a sync.
func NewPurgeCommand(root *RootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		entities  []string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove deprecated custom fields last seen before a cutoff",
		Long: `Remove custom field snapshots that are marked deprecated and were last
observed longer ago than --older-than. Active fields and known fields are
never touched.`,
		Example: `  nssync purge --older-than 2160h
  nssync purge --entity vendor --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return &ExitError{Code: ExitUsage, Err: errors.New("--older-than must be positive")}
			}
			types, err := entitiesOrConfigured(root.cfg, entities)
			if err != nil {
				return err
			}

			a, err := openApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			cutoff := time.Now().UTC().Add(-olderThan)
			purged := make(map[string]int, len(types))
			for _, entity := range types {
				n, err := a.records.PurgeDeprecated(ctx, entity, cutoff)
				if err != nil {
					return fmt.Errorf("purge %s: %w", entity, err)
				}
				purged[string(entity)] = n
				slog.Info("purged deprecated custom fields", "entity", entity, "cutoff", cutoff, "fields", n)
			}

			if root.Format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), purged)
			}
			for _, entity := range types {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d deprecated fields purged\n", entity, purged[string(entity)])
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", DefaultPurgeAge, "purge fields last seen longer ago than this")
	cmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "entity type to purge (repeatable)")
	return cmd
}
