package tunnel

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/rs/zerolog"
)

// Commander runs one-off shell commands on the device, each over its own SSH connection.
type Commander struct {
	endpoint models.DeviceEndpoint
	opts     SessionOptions
	logger   zerolog.Logger
}

// NewCommander creates a Commander for endpoint.
func NewCommander(endpoint models.DeviceEndpoint, opts SessionOptions, logger zerolog.Logger) *Commander {
	return &Commander{
		endpoint: withDefaultPort(endpoint),
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Run executes cmd on the device with stdin attached, when not nil, and returns
// the combined output. Connection failures are *ConnectError or *AuthError, a
// failing command is *CommandError.
func (c *Commander) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	conn, client, err := dial(ctx, c.endpoint, c.opts, c.logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return nil, &CommandError{Command: cmd, Err: fmt.Errorf("failed to open session: %w", err)}
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}

	c.logger.Debug().Str("device", c.endpoint.Address()).Str("command", cmd).Msg("Running device command")
	out, err := session.CombinedOutput(cmd)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return out, &CommandError{Command: cmd, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return out, nil
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
