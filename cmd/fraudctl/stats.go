package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	jwttoken "fraudengine/internal/jwt_token"
	id "fraudengine/pkg/domain"
)

func statsCmd() *cobra.Command {
	var (
		server string
		userID string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print reversal and arbitration statistics from a running server",
		Long: `Reversal statistics are held in the server process, so this command
asks a running instance rather than the database.

Examples:
  fraudctl stats
  fraudctl stats --server http://fraud-engine:8080 --user-id 5f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			caller := id.NewUserID()
			if userID != "" {
				if caller, err = id.ParseUserID(userID); err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, time.Minute)
			token, err := svc.GenerateCallerToken(cmd.Context(), caller, 0)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			base := strings.TrimRight(server, "/")
			for _, section := range []struct{ title, path string }{
				{"Reversals", "/v1/reversals/statistics"},
				{"Arbitration", "/v1/arbitration/statistics"},
			} {
				body, err := fetchJSON(cmd.Context(), client, base+section.path, token)
				if err != nil {
					return fmt.Errorf("%s: %w", strings.ToLower(section.title), err)
				}
				color.New(color.FgCyan, color.Bold).Fprintln(cmd.OutOrStdout(), section.title)
				fmt.Fprintln(cmd.OutOrStdout(), body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of the fraud engine")
	cmd.Flags().StringVar(&userID, "user-id", "", "caller user ID (UUID). Generated if empty.")
	return cmd
}

func fetchJSON(ctx context.Context, client *http.Client, url, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
