package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	ledgerservice "fraudengine/internal/ledger/service"
	ledgerstore "fraudengine/internal/ledger/store"
	id "fraudengine/pkg/domain"
)

func verifyChainCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "verify-chain <token-id>...",
		Short: "Replay a token's audit trail and check its hash chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenIDs := make([]id.TokenID, 0, len(args))
			for _, arg := range args {
				tokenID, err := id.ParseTokenID(arg)
				if err != nil {
					return fmt.Errorf("invalid token id %q: %w", arg, err)
				}
				tokenIDs = append(tokenIDs, tokenID)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := ledgerservice.New(ledgerstore.NewPostgres(pool.DB()))
			out := cmd.OutOrStdout()
			broken := 0
			for _, tokenID := range tokenIDs {
				v, err := svc.VerifyChain(cmd.Context(), tokenID)
				if err != nil {
					return fmt.Errorf("verify %s: %w", tokenID, err)
				}
				if !v.Valid || !v.HeadMatch {
					broken++
				}
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(v); err != nil {
						return err
					}
					continue
				}
				switch {
				case !v.Valid:
					color.New(color.FgRed).Fprintf(out, "BROKEN  %s at entry %d: %s\n", tokenID, v.BrokenAt, v.Reason)
				case !v.HeadMatch:
					color.New(color.FgYellow).Fprintf(out, "HEAD    %s chain intact but token head does not match\n", tokenID)
				default:
					color.New(color.FgGreen).Fprintf(out, "OK      %s (%d entries)\n", tokenID, v.Entries)
				}
			}
			if broken > 0 {
				return fmt.Errorf("%d of %d chains failed verification", broken, len(tokenIDs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verification reports as JSON")
	return cmd
}
