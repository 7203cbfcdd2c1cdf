package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/utils"
)

func parsePurpose(s string) (models.Purpose, error) {
	p, ok := models.ParsePurpose(s)
	if !ok {
		return "", fmt.Errorf("purpose must be one of ENTRY, EXIT, PAYMENT, got %q", s)
	}
	return p, nil
}

func newRotateCmd(a *admin) *cobra.Command {
	var gymID, purpose string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signing key of a gym purpose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.rotate(cmd, gymID, purpose, false)
		},
	}
	cmd.Flags().StringVar(&gymID, "gym", "", "gym id")
	cmd.Flags().StringVar(&purpose, "purpose", "", "ENTRY, EXIT or PAYMENT")
	_ = cmd.MarkFlagRequired("gym")
	_ = cmd.MarkFlagRequired("purpose")
	return cmd
}

func newRevokeCmd(a *admin) *cobra.Command {
	var gymID, purpose string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a gym purpose so every printed code stops working",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.rotate(cmd, gymID, purpose, true)
		},
	}
	cmd.Flags().StringVar(&gymID, "gym", "", "gym id")
	cmd.Flags().StringVar(&purpose, "purpose", "", "ENTRY, EXIT or PAYMENT")
	_ = cmd.MarkFlagRequired("gym")
	_ = cmd.MarkFlagRequired("purpose")
	return cmd
}

func (a *admin) rotate(cmd *cobra.Command, gymID, rawPurpose string, revoke bool) error {
	req := dto.RotateRequest{GymID: gymID, Purpose: rawPurpose, Revoke: revoke}
	if appErr := utils.ValidateStruct(&req); appErr != nil {
		return appErr
	}
	purpose, err := parsePurpose(req.Purpose)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.stack(ctx); err != nil {
		return err
	}
	if _, err := a.gyms.FindByID(ctx, gymID); err != nil {
		return err
	}
	version, err := a.keys.Rotate(ctx, gymID, purpose, constants.SystemActorCLI, revoke)
	if err != nil {
		return err
	}
	return a.print(dto.RotateResponse{GymID: gymID, Purpose: purpose, Version: version, Revoked: revoke})
}

func newSweepCmd(a *admin) *cobra.Command {
	var (
		gymID string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Rotate every key older than qr.key_max_age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			res, err := a.keys.SweepRotate(ctx, constants.SystemActorCLI, gymID, force)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"rotated": res.Rotated,
				"skipped": res.Skipped,
				"failed":  res.Failed,
			}
			if res.Failures != nil {
				out["failures"] = res.Failures.Error()
			}
			return a.print(out)
		},
	}
	cmd.Flags().StringVar(&gymID, "gym", "", "restrict the sweep to one gym")
	cmd.Flags().BoolVar(&force, "force", false, "rotate regardless of key age")
	return cmd
}

func newVerifyCmd(a *admin) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a scanned token against the stored keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.stack(ctx); err != nil {
				return err
			}
			token := strings.TrimSpace(args[0])
			// Accept a full deep link as well as the bare token.
			if strings.Contains(token, "://") {
				u, err := url.Parse(token)
				if err != nil {
					return fmt.Errorf("parse deep link: %w", err)
				}
				token = u.Query().Get("t")
			}
			payload, err := a.keys.VerifyToken(ctx, a.signer, token)
			if err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			return a.print(payload)
		},
	}
}
