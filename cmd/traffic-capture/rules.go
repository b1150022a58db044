package main

import (
	"fmt"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/firewall"
	"github.com/spf13/cobra"
)

// CmdRules prints the pf rules for the given ports without touching the device.
func CmdRules() *cobra.Command {
	var outboundPorts string
	var devicePort int

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the generated firewall rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := firewall.GenerateRules(outboundPorts, devicePort)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rules)
			return err
		},
	}
	cmd.Flags().StringVar(&outboundPorts, "outbound-ports", constants.DefaultOutboundPorts, "comma separated destination ports to capture")
	cmd.Flags().IntVar(&devicePort, "device-port", constants.DefaultDevicePort, "port bound on the device loopback")
	return cmd
}
