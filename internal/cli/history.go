package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calder/toolgate/pkg/registry"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [tool]",
	Short: "Show recent tool executions",
	Long:  `Show the most recent persisted executions, optionally for one tool.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum records to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.history == nil {
		return fmt.Errorf("history is disabled in the configuration")
	}

	var records []registry.ExecutionRecord
	if len(args) == 1 {
		records, err = a.history.ForTool(args[0], historyLimit)
	} else {
		records, err = a.history.Recent(historyLimit)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no executions recorded")
		return nil
	}
	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "failed: " + rec.Error
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %-10s %s\n",
			rec.At.Format("2006-01-02 15:04:05"), rec.Tool, rec.Duration, status)
	}
	return nil
}
