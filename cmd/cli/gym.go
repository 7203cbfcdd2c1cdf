package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/qrgate/internal/domain/models"
)

func newGymCmd(a *admin) *cobra.Command {
	gymCmd := &cobra.Command{
		Use:   "gym",
		Short: "Inspect and seed gyms",
	}

	var id, name, owner, status string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert or update a gym record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := models.GymStatus(strings.ToUpper(status))
			if s != models.GymStatusActive && s != models.GymStatusSuspended {
				return fmt.Errorf("status must be ACTIVE or SUSPENDED, got %q", status)
			}
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			if name == "" {
				name = id
			}
			gym := &models.Gym{ID: id, Name: name, OwnerID: owner, Status: s}
			if err := a.gyms.Save(ctx, gym); err != nil {
				return err
			}
			return a.print(gym)
		},
	}
	seedCmd.Flags().StringVar(&id, "id", "", "gym id")
	seedCmd.Flags().StringVar(&name, "name", "", "display name, defaults to the id")
	seedCmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	seedCmd.Flags().StringVar(&status, "status", string(models.GymStatusActive), "ACTIVE or SUSPENDED")
	_ = seedCmd.MarkFlagRequired("id")
	_ = seedCmd.MarkFlagRequired("owner")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every gym",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			gyms, err := a.gyms.List(ctx)
			if err != nil {
				return err
			}
			return a.print(gyms)
		},
	}

	gymCmd.AddCommand(seedCmd, listCmd)
	return gymCmd
}
