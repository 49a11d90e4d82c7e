package main

import (
	"github.com/spf13/cobra"

	"agentdeck/internal/config"
	"agentdeck/internal/profile"
)

// profilesCmd inspects the profile registry without starting the runtime.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect experiment profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		return printJSON(reg.List())
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show [profile-id]",
	Short: "Show one profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		p, ok := reg.Get(args[0])
		if !ok {
			return printJSON(map[string]interface{}{"ok": false, "reason": "profile_not_found"})
		}
		return printJSON(p)
	},
}

func loadRegistry() (*profile.Registry, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return profile.Load(config.ResolvePath(workspace, cfg.Storage.ProfilesPath))
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)
}
