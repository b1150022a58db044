// Package tunnel owns the reverse SSH tunnel: the session that holds the
// transport and the supervisor that runs it in the background.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/benmeehan/traffic-capture/internal/relay"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SessionOptions tunes timeouts and collaborators of a Session.
type SessionOptions struct {
	ConnectionTimeout time.Duration
	AcceptTimeout     time.Duration
	LocalDialTimeout  time.Duration
	KeepaliveInterval time.Duration

	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string

	// DialLocal opens the connection to the local destination. Defaults to a net.Dialer.
	DialLocal func(ctx context.Context, network, address string) (net.Conn, error)
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = constants.ConnectionTimeout
	}
	if o.AcceptTimeout == 0 {
		o.AcceptTimeout = constants.AcceptTimeout
	}
	if o.LocalDialTimeout == 0 {
		o.LocalDialTimeout = constants.LocalDialTimeout
	}
	if o.KeepaliveInterval == 0 {
		o.KeepaliveInterval = constants.KeepaliveInterval
	}
	if o.DialLocal == nil {
		var dialer net.Dialer
		o.DialLocal = dialer.DialContext
	}
	return o
}

// hostKeyCallback returns the known_hosts verifier, or accepts any key when no file is configured.
func (o SessionOptions) hostKeyCallback(logger zerolog.Logger) (ssh.HostKeyCallback, error) {
	if o.KnownHostsFile == "" {
		logger.Warn().Msg("No known_hosts file configured, accepting any device host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(o.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return callback, nil
}

// activeRelay holds the two streams of a running relay.
type activeRelay struct {
	channel net.Conn
	local   net.Conn
}

func (r *activeRelay) close() {
	r.channel.Close()
	r.local.Close()
}

// Session owns one authenticated SSH transport to a device and the single
// reverse forward requested on it.
type Session struct {
	endpoint models.DeviceEndpoint
	opts     SessionOptions
	logger   zerolog.Logger

	conn   net.Conn
	client *ssh.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	boundPort int
	closing   bool

	relays cmap.ConcurrentMap[string, *activeRelay]
	wg     sync.WaitGroup

	accepted      atomic.Int64
	failed        atomic.Int64
	bytesToLocal  atomic.Int64
	bytesToDevice atomic.Int64
	lastPoll      atomic.Int64
	alive         atomic.Bool

	closeOnce sync.Once
}

// Connect dials the device and authenticates with password credentials.
// A rejected login is reported as *AuthError, anything else as *ConnectError.
func Connect(ctx context.Context, endpoint models.DeviceEndpoint, opts SessionOptions, logger zerolog.Logger) (*Session, error) {
	opts = opts.withDefaults()
	endpoint = withDefaultPort(endpoint)
	conn, client, err := dial(ctx, endpoint, opts, logger)
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger.With().Str("device", endpoint.Address()).Logger(),
		conn:     conn,
		client:   client,
		ctx:      sessionCtx,
		cancel:   cancel,
		relays:   cmap.New[*activeRelay](),
	}
	s.alive.Store(true)
	s.touch()

	s.logger.Info().Str("server_version", string(client.ServerVersion())).Msg("SSH connection established")
	return s, nil
}

// dial opens the TCP connection and runs the SSH handshake. The raw connection
// is returned as well so callers can close it without waiting on the device.
func dial(ctx context.Context, endpoint models.DeviceEndpoint, opts SessionOptions, logger zerolog.Logger) (net.Conn, *ssh.Client, error) {
	addr := endpoint.Address()

	hostKeyCallback, err := opts.hostKeyCallback(logger)
	if err != nil {
		return nil, nil, &ConnectError{Addr: addr, Err: err}
	}

	config := &ssh.ClientConfig{
		User: endpoint.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(endpoint.Password),
			ssh.KeyboardInteractive(passwordChallenge(endpoint.Password)),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectionTimeout,
	}

	logger.Debug().Str("device", addr).Msg("Connecting to ssh host")

	dialer := net.Dialer{Timeout: opts.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("device", addr).Msg("Failed to dial device")
		return nil, nil, &ConnectError{Addr: addr, Err: err}
	}

	// the handshake has no context of its own
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(opts.ConnectionTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		conn.Close()
		return nil, nil, &ConnectError{Addr: addr, Err: ctx.Err()}
	}
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			logger.Error().Err(err).Str("device", addr).Str("user", endpoint.Username).Msg("Device rejected credentials")
			return nil, nil, &AuthError{Addr: addr, User: endpoint.Username, Err: err}
		}
		logger.Error().Err(err).Str("device", addr).Msg("Failed to establish SSH connection")
		return nil, nil, &ConnectError{Addr: addr, Err: err}
	}
	conn.SetDeadline(time.Time{})

	return conn, ssh.NewClient(sshConn, chans, reqs), nil
}

func withDefaultPort(endpoint models.DeviceEndpoint) models.DeviceEndpoint {
	if endpoint.Port == 0 {
		endpoint.Port = constants.DefaultSSHPort
	}
	return endpoint
}

func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

// isAuthFailure reports whether a handshake error came from the server refusing every auth method.
func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// RequestReverseForward asks the device to bind bindPort on its loopback and
// deliver connections to it over this transport. Port 0 lets the device choose.
func (s *Session) RequestReverseForward(bindPort int) error {
	bindAddr := net.JoinHostPort(constants.Localhost, strconv.Itoa(bindPort))

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return &ForwardRequestError{BindAddr: bindAddr, Err: errors.New("reverse forward already requested")}
	}
	s.mu.Unlock()

	listener, err := s.client.Listen("tcp", bindAddr)
	if err != nil {
		s.logger.Error().Err(err).Str("bind_addr", bindAddr).Msg("Failed to setup remote port forwarding")
		return &ForwardRequestError{BindAddr: bindAddr, Err: err}
	}

	port := bindPort
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		listener.Close()
		return &ForwardRequestError{BindAddr: bindAddr, Err: net.ErrClosed}
	}
	s.listener = listener
	s.boundPort = port

	s.logger.Debug().Int("device_port", port).Msg("Remote port forward granted")
	return nil
}

// BoundPort returns the device port of the granted reverse forward.
func (s *Session) BoundPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// RunAcceptLoop hands every forwarded channel to a relay towards localHost:localPort.
// It returns only when ctx is cancelled or the session is closed.
func (s *Session) RunAcceptLoop(ctx context.Context, localHost string, localPort int) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return ErrNoForward
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	localAddr := net.JoinHostPort(localHost, strconv.Itoa(localPort))
	channels := make(chan net.Conn)
	acceptErr := make(chan error, 1)

	s.goTracked(func() { s.acceptChannels(ctx, listener, channels, acceptErr) })
	s.goTracked(func() { s.keepalive(ctx) })

	ticker := time.NewTicker(s.opts.AcceptTimeout)
	defer ticker.Stop()

	s.logger.Info().Str("local", localAddr).Int("device_port", s.BoundPort()).Msg("Accepting forwarded channels")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("Accept loop stopped due to cancellation")
			return nil
		case channel := <-channels:
			s.touch()
			s.accepted.Add(1)
			if !s.goTracked(func() { s.serveChannel(ctx, channel, localAddr) }) {
				channel.Close()
			}
		case err := <-acceptErr:
			acceptErr = nil
			if ctx.Err() != nil {
				return nil
			}
			s.alive.Store(false)
			s.logger.Error().Err(err).Msg("Forwarded channel listener closed, tunnel is no longer accepting")
		case <-ticker.C:
			s.touch()
		}
	}
}

// acceptChannels feeds channels from the forward listener into the accept loop.
func (s *Session) acceptChannels(ctx context.Context, listener net.Listener, channels chan<- net.Conn, errs chan<- error) {
	for {
		channel, err := listener.Accept()
		if err != nil {
			errs <- err
			return
		}
		select {
		case channels <- channel:
		case <-ctx.Done():
			channel.Close()
			return
		}
	}
}

// keepalive periodically probes the transport and maintains the liveness flag.
func (s *Session) keepalive(ctx context.Context) {
	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				if s.alive.Swap(false) {
					s.logger.Warn().Err(err).Msg("SSH keepalive failed")
				}
				continue
			}
			s.alive.Store(true)
		}
	}
}

// serveChannel connects one forwarded channel to the local destination and relays it.
func (s *Session) serveChannel(ctx context.Context, channel net.Conn, localAddr string) {
	logger := s.logger.With().Str("origin", channel.RemoteAddr().String()).Str("local", localAddr).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.LocalDialTimeout)
	local, err := s.opts.DialLocal(dialCtx, "tcp", localAddr)
	cancel()
	if err != nil {
		s.failed.Add(1)
		logger.Error().Err(&LocalConnectError{Addr: localAddr, Err: err}).Msg("Forwarding request failed")
		channel.Close()
		return
	}

	id := uuid.NewString()
	if !s.register(id, &activeRelay{channel: channel, local: local}) {
		channel.Close()
		local.Close()
		return
	}
	defer s.relays.Remove(id)

	logger.Debug().Str("relay_id", id).Msg("Relay started")
	stats, err := relay.Relay(channel, local)
	s.bytesToLocal.Add(stats.AToB)
	s.bytesToDevice.Add(stats.BToA)

	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Str("relay_id", id).Msg("Relay terminated with error")
		return
	}
	logger.Debug().
		Str("relay_id", id).
		Int64("bytes_to_local", stats.AToB).
		Int64("bytes_to_device", stats.BToA).
		Msg("Relay finished")
}

// goTracked runs fn in a goroutine that Close waits for. It refuses once the session is closing.
func (s *Session) goTracked(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Session) register(id string, r *activeRelay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.relays.Set(id, r)
	return true
}

func (s *Session) touch() {
	s.lastPoll.Store(time.Now().UnixNano())
}

// fillStatus copies the session counters into st.
func (s *Session) fillStatus(st *models.TunnelStatus) {
	st.BoundPort = s.BoundPort()
	st.Alive = s.alive.Load()
	st.LastPoll = time.Unix(0, s.lastPoll.Load())
	st.AcceptedChannels = s.accepted.Load()
	st.FailedChannels = s.failed.Load()
	st.ActiveRelays = s.relays.Count()
	st.BytesToLocal = s.bytesToLocal.Load()
	st.BytesToDevice = s.bytesToDevice.Load()
}

// Close tears down the transport, the forward and every active relay, then waits
// for all session goroutines. It does not rely on the device acknowledging anything.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		listener := s.listener
		s.mu.Unlock()

		s.cancel()

		// drop the raw connection first so nothing below waits on the device
		err = s.conn.Close()
		s.client.Close()
		if listener != nil {
			listener.Close()
		}

		for item := range s.relays.IterBuffered() {
			item.Val.close()
		}

		s.wg.Wait()
		s.alive.Store(false)
		s.logger.Debug().Msg("SSH session closed")
	})
	return err
}
