package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pollbridge/internal/tui/watch"
)

func watchCmd() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				apiURL = "http://" + dialAddr(cfg.Bridge.Listen)
			}
			return watch.Run(strings.TrimRight(apiURL, "/"))
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", "", "Bridge base URL (default: from bridge.listen)")
	return cmd
}
