package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calder/toolgate/internal/config"
)

var (
	bridgeTransport string
	bridgeList      bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <prefix> <url>",
	Short: "Inspect a remote protocol server",
	Long: `Connect to a remote protocol server, list its tools, and show how
they would be adopted locally under the given prefix. Use the bridges
section of the config file to adopt them persistently in serve.`,
	Args: cobra.ExactArgs(2),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeTransport, "transport", "websocket", "remote transport (websocket, http)")
	bridgeCmd.Flags().BoolVar(&bridgeList, "resources", false, "also list remote resources and prompts")
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	prefix, url := args[0], args[1]
	ctx := cmd.Context()

	a, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connectBridge(ctx, config.BridgeConfig{
		Prefix:    prefix,
		Transport: bridgeTransport,
		URL:       url,
	}); err != nil {
		return fmt.Errorf("bridge %s: %w", url, err)
	}

	for _, meta := range a.registry.ByCategory("bridged") {
		fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", meta.Name, meta.Description)
	}

	if bridgeList && len(a.clients) > 0 {
		client := a.clients[len(a.clients)-1]
		if resources, err := client.ListResources(ctx); err == nil {
			for _, res := range resources {
				fmt.Fprintf(cmd.OutOrStdout(), "resource %-20s %s\n", res.Name, res.URI)
			}
		}
		if prompts, err := client.ListPrompts(ctx); err == nil {
			for _, p := range prompts {
				fmt.Fprintf(cmd.OutOrStdout(), "prompt   %-20s %s\n", p.Name, p.Description)
			}
		}
	}
	return nil
}
