package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var (
	toolsCategory string
	toolsTag      string
	toolsSearch   string
	toolsJSON     bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long: `List the tools the active security policy exposes, optionally
filtered by category, tag, or a search query.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsCategory, "category", "", "filter by category")
	toolsCmd.Flags().StringVar(&toolsTag, "tag", "", "filter by tag")
	toolsCmd.Flags().StringVar(&toolsSearch, "search", "", "substring search over name, description, tags")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	metas := a.registry.ListExposable()
	if toolsCategory != "" {
		metas = a.registry.ByCategory(toolsCategory)
	}
	if toolsTag != "" {
		metas = a.registry.ByTag(toolsTag)
	}
	if toolsSearch != "" {
		metas = a.registry.Search(toolsSearch)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })

	if toolsJSON {
		out, err := json.MarshalIndent(metas, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	if len(metas) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tools match")
		return nil
	}
	for _, meta := range metas {
		line := fmt.Sprintf("%-20s %s", meta.Name, meta.Description)
		if len(meta.Tags) > 0 {
			line += fmt.Sprintf("  [%s]", strings.Join(meta.Tags, ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
