package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-booking/internal/utils"
)

var (
	tokenRole    string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a payment service or an operator",
	Long: `Signs an HS256 token with JWT_SECRET.  Roles: SERVICE (payment
callbacks), OWNER and STAFF (seat administration).`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", utils.RoleService, "SERVICE, OWNER or STAFF")
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "token subject (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if tokenSubject == "" {
		return errors.New("--sub is required")
	}
	tok, err := utils.NewAccessToken(secret, tokenSubject, strings.ToUpper(tokenRole), tokenTTL)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tok)
}
