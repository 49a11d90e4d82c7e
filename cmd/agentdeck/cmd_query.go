package main

import (
	"github.com/spf13/cobra"

	"agentdeck/internal/store"
)

var (
	listStatus  string
	listProfile string
	listClaim   string
	listGuard   string
	listSinceMs int64
	listUntilMs int64
	listLimit   int
	listCursor  string
)

// getCmd fetches one experiment merged with its artifact metadata.
var getCmd = &cobra.Command{
	Use:   "get [run-id]",
	Short: "Show one experiment record with its artifact metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()
		return printJSON(rt.Get(args[0]))
	},
}

// listCmd pages through experiment records.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments with filters and cursor pagination",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		return printJSON(rt.List(store.ListFilter{
			Status:    listStatus,
			ProfileID: listProfile,
			ClaimID:   listClaim,
			Guard:     listGuard,
			SinceMs:   listSinceMs,
			UntilMs:   listUntilMs,
			Limit:     listLimit,
			Cursor:    listCursor,
		}))
	},
}

// healthCmd reports runtime and collaborator availability.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report runtime health",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()
		return printJSON(rt.Health())
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listProfile, "profile", "", "filter by profile id")
	listCmd.Flags().StringVar(&listClaim, "claim", "", "filter by claim id")
	listCmd.Flags().StringVar(&listGuard, "guard", "", "filter by guard annotation")
	listCmd.Flags().Int64Var(&listSinceMs, "since-ms", 0, "creation time lower bound (unix ms)")
	listCmd.Flags().Int64Var(&listUntilMs, "until-ms", 0, "creation time upper bound (unix ms)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "page size (1-500, default 50)")
	listCmd.Flags().StringVar(&listCursor, "cursor", "", "opaque cursor from a previous page")
}
