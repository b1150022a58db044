package tunnel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Supervisor runs at most one tunnel at a time in the background.
type Supervisor struct {
	opts   SessionOptions
	logger zerolog.Logger

	mu     sync.Mutex
	handle *Handle
}

// NewSupervisor creates a Supervisor whose sessions use opts.
func NewSupervisor(opts SessionOptions, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		opts:   opts,
		logger: logger,
	}
}

// Start launches connect, forward request and accept loop in the background and
// returns immediately. Establishment failures arrive on the handle's Err channel.
func (s *Supervisor) Start(endpoint models.DeviceEndpoint, spec models.ForwardSpec) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil && !s.handle.finished() {
		s.logger.Warn().Str("tunnel_id", s.handle.id).Msg("Tunnel is already running")
		return nil, ErrAlreadyRunning
	}

	h := newHandle(endpoint, spec, s.opts, s.logger)
	s.handle = h
	go h.run()

	h.logger.Info().
		Int("device_port", spec.RemoteBindPort).
		Str("local", spec.LocalAddress()).
		Msg("Tunnel started")
	return h, nil
}

// Stop stops the tunnel started by the last successful Start.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		s.logger.Warn().Msg("Tunnel is not running")
		return ErrNotRunning
	}
	return h.Stop()
}

// Status returns the status of the current tunnel.
func (s *Supervisor) Status() models.TunnelStatus {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return models.TunnelStatus{State: constants.TunnelStateStopped}
	}
	return h.Status()
}

// Handle controls one supervised tunnel.
type Handle struct {
	id       string
	endpoint models.DeviceEndpoint
	spec     models.ForwardSpec
	opts     SessionOptions
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	done  chan struct{}
	ready chan struct{}
	errs  chan error

	mu       sync.Mutex
	session  *Session
	status   models.TunnelStatus
	stopping atomic.Bool
}

func newHandle(endpoint models.DeviceEndpoint, spec models.ForwardSpec, opts SessionOptions, logger zerolog.Logger) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	if spec.LocalHost == "" {
		spec.LocalHost = constants.Localhost
	}
	return &Handle{
		id:       id,
		endpoint: endpoint,
		spec:     spec,
		opts:     opts,
		logger:   logger.With().Str("tunnel_id", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		errs:     make(chan error, 1),
		status: models.TunnelStatus{
			ID:        id,
			State:     constants.TunnelStateConnecting,
			Device:    endpoint.Address(),
			StartedAt: time.Now(),
		},
	}
}

// ID identifies the tunnel in logs and status.
func (h *Handle) ID() string { return h.id }

// Ready is closed once the reverse forward is active.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// Done is closed when the background unit has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err delivers the error that prevented the tunnel from starting.
func (h *Handle) Err() <-chan error { return h.errs }

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return h.stopping.Load()
	}
}

// run is the body of the isolated unit.
func (h *Handle) run() {
	defer close(h.done)

	sess, err := Connect(h.ctx, h.endpoint, h.opts, h.logger)
	if err != nil {
		h.fail(err)
		return
	}
	if !h.attach(sess) {
		sess.Close()
		return
	}

	if err := sess.RequestReverseForward(h.spec.RemoteBindPort); err != nil {
		h.fail(err)
		sess.Close()
		return
	}

	h.mu.Lock()
	h.status.State = constants.TunnelStateForwarding
	h.mu.Unlock()
	close(h.ready)

	h.logger.Info().
		Int("device_port", sess.BoundPort()).
		Str("local", h.spec.LocalAddress()).
		Msg("Now forwarding remote port")

	sess.RunAcceptLoop(h.ctx, h.spec.LocalHost, h.spec.LocalPort)
	sess.Close()
}

// attach records the session unless Stop already started.
func (h *Handle) attach(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.session = sess
	return true
}

// fail records a start failure and reports it, unless it was caused by Stop.
func (h *Handle) fail(err error) {
	if h.ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	h.status.State = constants.TunnelStateFailed
	h.status.LastError = err.Error()
	h.mu.Unlock()

	h.logger.Error().Err(err).Str("device", h.endpoint.Address()).Msg("Tunnel failed to start")
	select {
	case h.errs <- err:
	default:
	}
}

// Stop forcibly terminates the tunnel and releases the transport and every socket.
// Only the first call does anything; later calls return ErrNotRunning.
func (h *Handle) Stop() error {
	if !h.stopping.CompareAndSwap(false, true) {
		return ErrNotRunning
	}

	h.logger.Info().Msg("Stopping tunnel...")
	h.cancel()

	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
	<-h.done

	h.mu.Lock()
	h.status.State = constants.TunnelStateStopped
	h.mu.Unlock()

	h.logger.Info().Msg("Tunnel stopped")
	return nil
}

// Status returns a snapshot of the tunnel.
func (h *Handle) Status() models.TunnelStatus {
	h.mu.Lock()
	st := h.status
	sess := h.session
	h.mu.Unlock()

	if sess != nil {
		sess.fillStatus(&st)
	}
	return st
}
