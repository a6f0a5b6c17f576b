package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/urlredirector/urlredirector/internal/dnr"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the declarative rule set of the stored rules",
	Args:  cobra.NoArgs,
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringP("output", "o", "", "Write the rules to this file instead of stdout")
}

func runCompile(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, stats := a.engine.Compiled()
	slog.Info("Declarative rules compiled", slog.Any("stats", stats))

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		return dnr.WriteRules(output, rules)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(rules)
}
