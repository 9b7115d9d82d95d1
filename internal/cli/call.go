package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder/toolgate/pkg/registry"
)

var (
	callArgs    string
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Execute a tool locally",
	Long: `Execute one tool through the full pipeline (validation, security
policy, sandboxed execution) and print the result as JSON.

Arguments are passed as a JSON object:

  toolgate call echo --args '{"text":"hello"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "per-call timeout override (e.g. 10s)")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(callArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	a, err := buildApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []registry.CallOption
	if callTimeout > 0 {
		opts = append(opts, registry.WithTimeout(callTimeout))
	}

	res := a.registry.Execute(cmd.Context(), args[0], toolArgs, opts...)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !res.Success {
		return fmt.Errorf("tool failed: %s", res.Error)
	}
	return nil
}
