package firewall

import (
	"fmt"

	"github.com/benmeehan/traffic-capture/internal/constants"
)

// RuleSet holds everything needed to render the device pf rules.
type RuleSet struct {
	LoopbackInterface string
	Localhost         string
	OutboundPorts     PortSet
	DevicePort        int
}

// NewRuleSet builds a RuleSet on the default loopback interface and address.
func NewRuleSet(outboundPorts PortSet, devicePort int) RuleSet {
	return RuleSet{
		LoopbackInterface: constants.LoopbackInterface,
		Localhost:         constants.Localhost,
		OutboundPorts:     outboundPorts,
		DevicePort:        devicePort,
	}
}

// RedirectRule sends outbound traffic on the captured ports to the device port
// bound by the reverse forward.
func (r RuleSet) RedirectRule() string {
	return fmt.Sprintf("rdr on %s inet proto tcp from any to any port %s -> %s port %d",
		r.LoopbackInterface, r.OutboundPorts, r.Localhost, r.DevicePort)
}

// RouteRule routes outgoing packets on the captured ports through loopback so
// the redirect rule sees them.
func (r RuleSet) RouteRule() string {
	return fmt.Sprintf("pass out route-to (%s %s) inet proto tcp from any to any port %s",
		r.LoopbackInterface, r.Localhost, r.OutboundPorts)
}

// String renders both rules, newline terminated.
func (r RuleSet) String() string {
	return r.RedirectRule() + "\n" + r.RouteRule() + "\n"
}

// GenerateRules parses outboundPorts and renders the rule file contents.
func GenerateRules(outboundPorts string, devicePort int) (string, error) {
	ports, err := ParsePorts(outboundPorts)
	if err != nil {
		return "", err
	}
	return NewRuleSet(ports, devicePort).String(), nil
}
