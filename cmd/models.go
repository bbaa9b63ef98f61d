// File: cmd/models.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/llm"
	"github.com/nv4re/tabpilot/internal/observability"
)

// newModelsCmd creates the `models` command, which prints the configured
// provider's model catalog.
func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Lists the models offered by the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			llmCfg := cfg.LLM()
			if llmCfg.APIKey == "" {
				return fmt.Errorf("llm.api_key is not configured")
			}
			client, err := llm.NewChatClient(ctx, llmCfg, logger)
			if err != nil {
				return err
			}
			catalog, ok := client.(schemas.CatalogClient)
			if !ok {
				return fmt.Errorf("provider %q does not expose a model catalog", client.Name())
			}

			models, err := catalog.ListModels(ctx)
			if err != nil {
				return err
			}
			for _, m := range models {
				if m.OwnedBy != "" {
					fmt.Printf("%s\t%s\n", m.ID, m.OwnedBy)
					continue
				}
				fmt.Println(m.ID)
			}
			return nil
		},
	}
}
