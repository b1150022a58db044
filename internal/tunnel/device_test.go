package tunnel

import (
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/traffic-capture/internal/models"
	gssh "github.com/gliderlabs/ssh"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "mobile"
	testPassword = "alpine"
)

// testDevice is an in-process SSH server standing in for the remote device.
// Commands are recorded; "cat > path" stores stdin and "fail" exits 1.
type testDevice struct {
	server *gssh.Server
	addr   *net.TCPAddr

	mu       sync.Mutex
	commands []string
	files    map[string]string
}

func startDevice(t *testing.T, allowForward bool) *testDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &testDevice{files: make(map[string]string)}
	forwardHandler := &gssh.ForwardedTCPHandler{}
	server := &gssh.Server{
		Handler: d.handle,
		PasswordHandler: func(ctx gssh.Context, password string) bool {
			return ctx.User() == testUser && password == testPassword
		},
		ReversePortForwardingCallback: func(ctx gssh.Context, host string, port uint32) bool {
			return allowForward
		},
		RequestHandlers: map[string]gssh.RequestHandler{
			"tcpip-forward":        forwardHandler.HandleSSHRequest,
			"cancel-tcpip-forward": forwardHandler.HandleSSHRequest,
		},
	}
	go server.Serve(ln)

	d.server = server
	d.addr = ln.Addr().(*net.TCPAddr)
	t.Cleanup(func() { d.Close() })
	return d
}

func (d *testDevice) handle(s gssh.Session) {
	cmd := s.RawCommand()
	if cmd == "" {
		io.WriteString(s, "Remote forwarding available...\n")
		return
	}

	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()

	switch {
	case strings.HasPrefix(cmd, "cat > "):
		data, _ := io.ReadAll(s)
		path := strings.Trim(strings.TrimPrefix(cmd, "cat > "), "'")
		d.mu.Lock()
		d.files[path] = string(data)
		d.mu.Unlock()
	case cmd == "fail":
		io.WriteString(s.Stderr(), "boom")
		s.Exit(1)
		return
	default:
		io.WriteString(s, "ok")
	}
	s.Exit(0)
}

func (d *testDevice) recorded() ([]string, map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := make(map[string]string, len(d.files))
	for k, v := range d.files {
		files[k] = v
	}
	return append([]string(nil), d.commands...), files
}

func (d *testDevice) endpoint(user, password string) models.DeviceEndpoint {
	return models.DeviceEndpoint{
		Host:     d.addr.IP.String(),
		Port:     d.addr.Port,
		Username: user,
		Password: password,
	}
}

func (d *testDevice) Close() {
	d.server.Close()
}

// startEchoServer plays the interception proxy.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln
}

func listenerPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listenerPort(ln)
	require.NoError(t, ln.Close())
	return port
}

// dialDevicePort connects to the forwarded port the way an app on the device would.
func dialDevicePort(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	require.NoError(t, err)
	return conn
}

func testOptions() SessionOptions {
	return SessionOptions{
		ConnectionTimeout: 5 * time.Second,
		AcceptTimeout:     50 * time.Millisecond,
		LocalDialTimeout:  time.Second,
		KeepaliveInterval: 100 * time.Millisecond,
	}
}

func roundTrip(t *testing.T, conn net.Conn, msg string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)

	reply := make([]byte, len(msg))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	return string(reply)
}

func statusOf(s *Session) models.TunnelStatus {
	var st models.TunnelStatus
	s.fillStatus(&st)
	return st
}
