package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/urlredirector/urlredirector/internal/rule"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve URL",
	Short: "Resolve a URL through the stored rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().String("method", "", "Request method")
	resolveCmd.Flags().String("type", "", "Request resource type")
	resolveCmd.Flags().Bool("trace", false, "Print every rewrite step as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	method, _ := cmd.Flags().GetString("method")
	typ, _ := cmd.Flags().GetString("type")
	req := rule.Request{URL: args[0], Method: method, Type: typ}

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(a.engine.Trace(req))
	}

	url, ok := a.engine.Resolve(req)
	if !ok {
		return fmt.Errorf("no rule matches %s", req.URL)
	}
	fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}
