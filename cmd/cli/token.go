package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/constants"
)

func newTokenCmd(a *admin) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Admin API tokens",
	}

	var (
		subject string
		role    string
		ttl     time.Duration
	)
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an admin JWT signed with auth.jwt_secret",
		RunE: func(*cobra.Command, []string) error {
			r := constants.Role(strings.ToUpper(role))
			if r != constants.RoleSuperAdmin && r != constants.RoleGymOwner {
				return fmt.Errorf("role must be %s or %s, got %q", constants.RoleSuperAdmin, constants.RoleGymOwner, role)
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			tok, err := middleware.SignAdminToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, subject, r, ttl)
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{
				"token":     tok,
				"subject":   subject,
				"role":      r,
				"expiresAt": time.Now().Add(ttl).UTC(),
			})
		},
	}
	mintCmd.Flags().StringVar(&subject, "subject", "", "user id placed in the sub claim")
	mintCmd.Flags().StringVar(&role, "role", string(constants.RoleSuperAdmin), "SUPER_ADMIN or GYM_OWNER")
	mintCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = mintCmd.MarkFlagRequired("subject")

	tokenCmd.AddCommand(mintCmd)
	return tokenCmd
}
