package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentdeck/internal/artifact"
	"agentdeck/internal/runtime"
	"agentdeck/internal/store"
)

var (
	runParams     []string
	runCwd        string
	runTimeoutMs  int64
	runRequester  string
	runClaimID    string
	runRelation   string
	runIdemKey    string
	runGuardNote  string
	runRedactions []string
	runEnvKeys    []string
	runWait       bool
)

// runCmd submits an experiment run.
var runCmd = &cobra.Command{
	Use:   "run [profile-id]",
	Short: "Execute an experiment profile in the sandboxed runtime",
	Long: `Resolves a profile into a concrete command and submits it to the
serialized execution queue. Parameters are supplied as key=value pairs and
validated against a strict allow-list before substitution.

Example:
  agentdeck run go-test -p pkg=./... --claim claim_42 --idempotency-key ci-1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := openRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		params := make(map[string]string, len(runParams))
		for _, kv := range runParams {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("parameter %q is not key=value", kv)
			}
			params[parts[0]] = parts[1]
		}

		rules := make([]artifact.RedactionRule, 0, len(runRedactions))
		for _, lit := range runRedactions {
			rules = append(rules, artifact.RedactionRule{Literal: lit})
		}

		res := rt.Create(runtime.CreateRequest{
			ProfileID:      args[0],
			Params:         params,
			Cwd:            runCwd,
			TimeoutMs:      runTimeoutMs,
			Requester:      runRequester,
			ClaimID:        runClaimID,
			Relation:       runRelation,
			IdempotencyKey: runIdemKey,
			GuardNote:      runGuardNote,
			RedactionRules: rules,
			ExtraEnvKeys:   runEnvKeys,
		})
		if !res.OK {
			return printJSON(res)
		}

		logger.Info("Experiment submitted",
			zap.String("run_id", res.RunID),
			zap.String("status", res.Status))

		if runWait {
			final := waitForTerminal(rt, res.RunID)
			return printJSON(final)
		}
		return printJSON(res)
	},
}

// waitForTerminal polls until the run leaves queued/running.
func waitForTerminal(rt *runtime.Runtime, runID string) runtime.GetResult {
	for {
		res := rt.Get(runID)
		if !res.OK || res.Experiment == nil {
			return res
		}
		switch res.Experiment.Status {
		case store.StatusQueued, store.StatusRunning:
			time.Sleep(100 * time.Millisecond)
		default:
			return res
		}
	}
}

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "profile parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "working directory override")
	runCmd.Flags().Int64Var(&runTimeoutMs, "timeout-ms", 0, "timeout override in milliseconds")
	runCmd.Flags().StringVar(&runRequester, "requester", "", "submitting agent or user id")
	runCmd.Flags().StringVar(&runClaimID, "claim", "", "claim id this run produces evidence for")
	runCmd.Flags().StringVar(&runRelation, "relation", "", "declared evidence relation (supports|contradicts)")
	runCmd.Flags().StringVar(&runIdemKey, "idempotency-key", "", "at-most-once execution token")
	runCmd.Flags().StringVar(&runGuardNote, "guard", "", "audit/guard annotation")
	runCmd.Flags().StringArrayVar(&runRedactions, "redact", nil, "literal substring to scrub from output (repeatable)")
	runCmd.Flags().StringArrayVar(&runEnvKeys, "env", nil, "extra parent env var to pass through (repeatable)")
	runCmd.Flags().BoolVar(&runWait, "wait", true, "block until the run reaches a terminal state")
}
