package cli

import (
	"github.com/spf13/cobra"
)

func newAuditCmd(a *admin) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}

	var (
		gymID string
		limit int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest audit entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			entries, err := a.audit.ListByGym(ctx, gymID, limit)
			if err != nil {
				return err
			}
			return a.print(entries)
		},
	}
	listCmd.Flags().StringVar(&gymID, "gym", "", "only entries for this gym")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	auditCmd.AddCommand(listCmd)
	return auditCmd
}
