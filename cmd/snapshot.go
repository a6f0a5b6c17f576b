package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/urlredirector/urlredirector/internal/rule"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the stored rules",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the stored rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.engine.Snapshot().Store.Encode()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the stored rules with FILE (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := readInput(args[0])
		if err != nil {
			return err
		}
		s, err := rule.DecodeStore(b)
		if err != nil {
			return err
		}

		a, err := loadApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.engine.Replace(contextOf(cmd), s)
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
