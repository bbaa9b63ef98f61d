// File: cmd/settings.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/observability"
)

// settingsKeys is the flat key space both storage backends honor.
var settingsKeys = []string{
	schemas.KeyAIProvider,
	schemas.KeyAIModel,
	schemas.KeyAIAPIKey,
	schemas.KeyGroqVisionModel,
	schemas.KeySearchEnabled,
	schemas.KeySearchModel,
}

// newSettingsCmd creates the `settings` command group for reading and
// writing persisted provider settings.
func newSettingsCmd() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Reads and writes persisted provider settings",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Prints one stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSettingsKey(args[0]); err != nil {
				return err
			}
			store, closeStore, err := openStorage(cmd.Context(), observability.GetLogger(), cfg.Storage())
			if err != nil {
				return err
			}
			defer closeStore()

			value, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persists one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSettingsKey(args[0]); err != nil {
				return err
			}
			store, closeStore, err := openStorage(cmd.Context(), observability.GetLogger(), cfg.Storage())
			if err != nil {
				return err
			}
			defer closeStore()

			return store.Set(cmd.Context(), args[0], args[1])
		},
	})

	return settingsCmd
}

func validateSettingsKey(key string) error {
	for _, known := range settingsKeys {
		if key == known {
			return nil
		}
	}
	return fmt.Errorf("unknown settings key %q, supported: [%s]", key, strings.Join(settingsKeys, " "))
}
