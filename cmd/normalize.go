package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/urlredirector/urlredirector/internal/config"
	"github.com/urlredirector/urlredirector/internal/feed"
	"github.com/urlredirector/urlredirector/internal/log"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize FILE",
	Short: "Convert a downloaded feed document to a rule group",
	Args:  cobra.ExactArgs(1),
	RunE:  runNormalize,
}

func init() {
	normalizeCmd.Flags().String("url", "", "Feed URL to stamp (default FILE)")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return err
	}
	log.SetCLILogConf(cfg.LogLevel)

	body, err := readInput(args[0])
	if err != nil {
		return err
	}
	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = args[0]
	}

	g, err := feed.Normalize(body, url, time.Now())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}
