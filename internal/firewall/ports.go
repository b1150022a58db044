// Package firewall renders the pf rule text that redirects device traffic into
// the reverse tunnel.
package firewall

import (
	"fmt"
	"strconv"
	"strings"
)

const maxPort = 65535

// ParseError reports a token of a port list that is not a valid port number.
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid port %q: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("invalid port %q", e.Token)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PortSet is an ordered list of ports. Order of appearance is kept so the
// generated rule text is deterministic.
type PortSet []int

// String renders the set in pf brace syntax, e.g. {80,443}.
func (p PortSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, port := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(port))
	}
	b.WriteByte('}')
	return b.String()
}

// ParsePorts parses a comma-separated port list such as "80,443".
// Duplicates are kept and order is preserved.
func ParsePorts(list string) (PortSet, error) {
	tokens := strings.Split(list, ",")
	ports := make(PortSet, 0, len(tokens))
	for _, token := range tokens {
		port, err := parsePort(token)
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// FormatPortList parses list and returns its brace-delimited rendering.
func FormatPortList(list string) (string, error) {
	ports, err := ParsePorts(list)
	if err != nil {
		return "", err
	}
	return ports.String(), nil
}

func parsePort(token string) (int, error) {
	trimmed := strings.TrimSpace(token)
	port, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, &ParseError{Token: token, Err: err}
	}
	if port == 0 || port > maxPort {
		return 0, &ParseError{Token: token, Err: fmt.Errorf("port out of range 1-%d", maxPort)}
	}
	return int(port), nil
}
