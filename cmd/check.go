package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run every rule against its example URL",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, ex := range a.engine.Snapshot().Store.Check() {
		group := "custom"
		if !ex.Source.Custom() {
			group = ex.Source.URL
		}
		if !ex.Matched {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s#%d %s (%s)\n", group, ex.Source.Rule, ex.URL, ex.Rule.State())
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s#%d %s -> %s\n", group, ex.Source.Rule, ex.URL, ex.Result)
	}
	if failed > 0 {
		return fmt.Errorf("%d rule examples do not match", failed)
	}
	return nil
}
