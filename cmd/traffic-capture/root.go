package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

// NewRootCommand builds the traffic-capture command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "traffic-capture",
		Short: "Capture a device's outbound TCP traffic through a reverse SSH tunnel",
		Long: `traffic-capture loads pf redirect rules on a device and forwards the
redirected connections back over SSH to a local interception proxy.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the configuration file")

	cmd.AddCommand(
		CmdRun(&configPath),
		CmdRules(),
	)
	return cmd
}
