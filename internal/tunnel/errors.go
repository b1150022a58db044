package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the supervisor already owns a tunnel.
	ErrAlreadyRunning = errors.New("tunnel is already running")

	// ErrNotRunning is returned by Stop when there is no tunnel to stop.
	ErrNotRunning = errors.New("tunnel is not running")

	// ErrNoForward is returned by RunAcceptLoop before a reverse forward was granted.
	ErrNoForward = errors.New("no reverse forward requested on session")
)

// ConnectError reports that the SSH transport to the device could not be established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError reports that the device rejected the supplied credentials.
type AuthError struct {
	Addr string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ForwardRequestError reports that the device refused the remote port forward.
type ForwardRequestError struct {
	BindAddr string
	Err      error
}

func (e *ForwardRequestError) Error() string {
	return fmt.Sprintf("remote forward on %s rejected: %v", e.BindAddr, e.Err)
}

func (e *ForwardRequestError) Unwrap() error { return e.Err }

// LocalConnectError reports that one forwarded channel could not reach the local destination.
type LocalConnectError struct {
	Addr string
	Err  error
}

func (e *LocalConnectError) Error() string {
	return fmt.Sprintf("failed to connect to local destination %s: %v", e.Addr, e.Err)
}

func (e *LocalConnectError) Unwrap() error { return e.Err }

// CommandError reports a device command that could not run or exited non-zero.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
