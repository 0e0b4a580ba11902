package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	jwttoken "fraudengine/internal/jwt_token"
	id "fraudengine/pkg/domain"
)

type tokenOutput struct {
	Token     string            `json:"token"`
	UserID    string            `json:"user_id"`
	ExpiresIn string            `json:"expires_in"`
	Usage     map[string]string `json:"usage"`
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a caller token signed with FRAUD_JWT_SIGNING_KEY",
		Long: `Mint a bearer token for local development and testing.

Roles are not part of the token. Grant the user the arbitrator or admin role
in the policy file before calling arbitration endpoints with it.

Examples:
  fraudctl token
  fraudctl token --user-id 550e8400-e29b-41d4-a716-446655440000 --ttl 1h
  fraudctl token --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Environment == "production" || cfg.Environment == "prod" {
				return fmt.Errorf("refusing to mint tokens in %s", cfg.Environment)
			}
			caller := id.NewUserID()
			if userID != "" {
				if caller, err = id.ParseUserID(userID); err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
			}

			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
			token, err := svc.GenerateCallerToken(cmd.Context(), caller, ttl)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			expires := ttl
			if expires <= 0 {
				expires = cfg.Auth.TokenTTL
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tokenOutput{
					Token:     token,
					UserID:    caller.String(),
					ExpiresIn: expires.String(),
					Usage: map[string]string{
						"header": "Authorization: Bearer <token>",
					},
				})
			}
			color.New(color.Bold).Fprintln(out, "Caller Token (JWT)")
			fmt.Fprintf(out, "User ID:    %s\n", caller)
			fmt.Fprintf(out, "Expires In: %s\n", expires)
			fmt.Fprintf(out, "Issuer:     %s\n\n", cfg.Auth.Issuer)
			fmt.Fprintln(out, token)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Usage:")
			fmt.Fprintln(out, `  curl -H "Authorization: Bearer <token>" http://localhost:8080/v1/...`)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user ID (UUID). Generated if empty.")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to FRAUD_TOKEN_TTL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
