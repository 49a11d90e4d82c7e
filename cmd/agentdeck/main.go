package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agentdeck/internal/claims"
	"agentdeck/internal/config"
	"agentdeck/internal/ledger"
	"agentdeck/internal/logging"
	"agentdeck/internal/profile"
	"agentdeck/internal/runtime"
	"agentdeck/internal/store"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "agentdeck - experiment runtime for agent claims",
	Long: `agentdeck executes profile-defined shell commands inside an isolated
pseudo-terminal to produce verifiable evidence for contested claims.

Every completed run is appended to an immutable evidence ledger; runs tied
to a claim attach their evidence and drive the claim's status.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(claimCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRuntime wires the full runtime from the workspace config. The
// returned cleanup closes the runtime and all collaborators.
func openRuntime() (*runtime.Runtime, func(), error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Initialize(workspace); err != nil {
		logger.Warn("Logging init failed", zap.Error(err))
	}

	registry, perr := profile.Load(config.ResolvePath(workspace, cfg.Storage.ProfilesPath))
	if perr != nil {
		return nil, nil, perr
	}

	expStore, err := store.Open(config.ResolvePath(workspace, cfg.Storage.DatabasePath))
	if err != nil {
		return nil, nil, err
	}
	claimStore, err := claims.Open(config.ResolvePath(workspace, cfg.Storage.ClaimsPath))
	if err != nil {
		expStore.Close()
		return nil, nil, err
	}
	evLedger := ledger.New(config.ResolvePath(workspace, cfg.Storage.LedgerPath), cfg.Ledger.Enabled)
	if err := evLedger.Init(); err != nil {
		claimStore.Close()
		expStore.Close()
		return nil, nil, err
	}

	rt, err := runtime.Open(runtime.Options{
		Registry:              registry,
		Store:                 expStore,
		Claims:                claimStore,
		Ledger:                evLedger,
		ArtifactRoot:          config.ResolvePath(workspace, cfg.Storage.ArtifactRoot),
		QueueCapacity:         cfg.Runtime.QueueCapacity,
		DefaultOutputCapBytes: cfg.Runtime.DefaultOutputCapBytes,
	})
	if err != nil {
		evLedger.Close()
		claimStore.Close()
		expStore.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Runtime close reported error", zap.Error(err))
		}
		logging.CloseAll()
	}
	return rt, cleanup, nil
}

// printJSON renders an operation result to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
