package cli

import (
	"bufio"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// credentialView is the listed form of a stored credential.
type credentialView struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCredentialsCommand manages credentials kept encrypted in the local store.
func NewCredentialsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage encrypted credentials in the local store",
		Long: `Store account credentials AES-256-GCM encrypted in the local database.
Stored values take precedence over configuration. Requires NSSYNC_SECRET_KEY.

Names: ` + strings.Join(CredentialNames, ", "),
	}

	cmd.AddCommand(newCredentialsSetCommand(root))
	cmd.AddCommand(newCredentialsListCommand(root))
	cmd.AddCommand(newCredentialsDeleteCommand(root))
	return cmd
}

func validCredentialName(name string) error {
	if !slices.Contains(CredentialNames, name) {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown credential %q: must be one of %s", name, strings.Join(CredentialNames, ", "))}
	}
	return nil
}

func newCredentialsSetCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Store a credential; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validCredentialName(name); err != nil {
				return err
			}

			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read credential from stdin: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return &ExitError{Code: ExitUsage, Err: errors.New("credential value must not be empty")}
			}

			a, err := openApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.credentials.Set(commandContext(cmd), name, value); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s)\n", name, model.Mask(value))
			return err
		},
	}
}

func newCredentialsListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials with masked values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			creds, err := a.credentials.List(commandContext(cmd))
			if err != nil {
				return err
			}

			views := make([]credentialView, 0, len(creds))
			for _, c := range creds {
				views = append(views, credentialView{Name: c.Name, Value: model.Mask(c.Value), UpdatedAt: c.UpdatedAt})
			}

			if root.Format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Name, v.Value, v.UpdatedAt.Format(time.RFC3339)})
			}
			return table(cmd.OutOrStdout(), []string{"NAME", "VALUE", "UPDATED"}, rows)
		},
	}
}

func newCredentialsDeleteCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validCredentialName(name); err != nil {
				return err
			}

			a, err := openApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.credentials.Delete(commandContext(cmd), name); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			return err
		},
	}
}
