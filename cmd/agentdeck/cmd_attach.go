package main

import (
	"github.com/spf13/cobra"

	"agentdeck/internal/claims"
)

var (
	attachRelation string
	attachActor    string
)

// attachCmd repairs a run whose claim linkage did not complete, or links
// a finished run to a claim after the fact.
var attachCmd = &cobra.Command{
	Use:   "attach [run-id] [claim-id]",
	Short: "Attach a finished experiment's evidence to a claim",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()
		return printJSON(rt.AttachToClaim(args[0], args[1], attachRelation, attachActor))
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachRelation, "relation", claims.RelationSupports, "declared relation (supports|contradicts)")
	attachCmd.Flags().StringVar(&attachActor, "actor", "cli", "actor recorded on the evidence link")
}
