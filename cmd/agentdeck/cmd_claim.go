package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"agentdeck/internal/claims"
	"agentdeck/internal/config"
)

var (
	claimID     string
	claimStatus string
)

// claimCmd manages the claim catalog directly.
var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Manage claims",
}

var claimNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openClaims()
		if err != nil {
			return err
		}
		defer cs.Close()

		id := claimID
		if id == "" {
			id = "clm_" + uuid.NewString()
		}
		if err := cs.CreateClaim(id, args[0], claimStatus, time.Now().UnixMilli()); err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"ok": true, "claimId": id, "status": claimStatus})
	},
}

var claimShowCmd = &cobra.Command{
	Use:   "show [claim-id]",
	Short: "Show a claim and its evidence links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := openClaims()
		if err != nil {
			return err
		}
		defer cs.Close()

		c, err := cs.GetClaim(args[0])
		if err != nil {
			return err
		}
		if c == nil {
			return printJSON(map[string]interface{}{"ok": false, "reason": "claim_not_found"})
		}
		ev, err := cs.ListEvidence(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"ok": true, "claim": c, "evidence": ev})
	},
}

func openClaims() (*claims.Store, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return claims.Open(config.ResolvePath(workspace, cfg.Storage.ClaimsPath))
}

func init() {
	claimNewCmd.Flags().StringVar(&claimID, "id", "", "explicit claim id (default generated)")
	claimNewCmd.Flags().StringVar(&claimStatus, "status", claims.StatusPendingProof, "initial status")
	claimCmd.AddCommand(claimNewCmd)
	claimCmd.AddCommand(claimShowCmd)
}
