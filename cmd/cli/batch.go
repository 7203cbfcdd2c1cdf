package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/utils"
)

func newBatchCmd(a *admin) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage batch generation of printable QR assets",
	}

	var scope, gymID string
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a PENDING batch job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := dto.SubmitBatchRequest{Scope: strings.ToUpper(scope), GymID: gymID}
			if appErr := utils.ValidateStruct(&req); appErr != nil {
				return appErr
			}
			s := models.BatchScope(req.Scope)
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			job, err := a.batch.Submit(ctx, constants.SystemActorCLI, s, req.GymID)
			if err != nil {
				return err
			}
			return a.print(dto.SubmitBatchResponse{JobID: job.ID, Status: job.Status})
		},
	}
	submitCmd.Flags().StringVar(&scope, "scope", string(models.BatchScopeAllGyms), "ALL_GYMS or GYM")
	submitCmd.Flags().StringVar(&gymID, "gym", "", "gym id, required for scope GYM")

	var runJobID string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a PENDING job in this process and wait for it to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			started, status, err := a.batch.Enqueue(ctx, runJobID)
			if err != nil {
				return err
			}
			if !started {
				return a.print(dto.RunBatchResponse{Started: false, Status: status})
			}
			if err := a.batch.Wait(ctx); err != nil {
				return err
			}
			job, err := a.batch.Get(ctx, runJobID)
			if err != nil {
				return err
			}
			return a.print(dto.NewBatchJobResponse(job, false))
		},
	}
	runCmd.Flags().StringVar(&runJobID, "job", "", "job id")
	_ = runCmd.MarkFlagRequired("job")

	var statusJobID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state and progress of a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			job, err := a.batch.Get(ctx, statusJobID)
			if err != nil {
				return err
			}
			return a.print(dto.NewBatchJobResponse(job, a.batch.IsRunning(job.ID)))
		},
	}
	statusCmd.Flags().StringVar(&statusJobID, "job", "", "job id")
	_ = statusCmd.MarkFlagRequired("job")

	batchCmd.AddCommand(submitCmd, runCmd, statusCmd)
	return batchCmd
}
