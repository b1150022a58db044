package metrics_collectors

import (
	"context"

	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/rs/zerolog"
)

// TunnelStatusProvider exposes the status of the running tunnel.
type TunnelStatusProvider interface {
	Status() models.TunnelStatus
}

// TunnelMetricCollector snapshots the capture tunnel: state, liveness, channel
// counters and relayed bytes.
type TunnelMetricCollector struct {
	Logger   zerolog.Logger
	Provider TunnelStatusProvider
}

// Name returns the identifier for the tunnel metric collector.
func (t *TunnelMetricCollector) Name() string {
	return "tunnel"
}

// Collect returns the current TunnelStatus.
func (t *TunnelMetricCollector) Collect(ctx context.Context) interface{} {
	status := t.Provider.Status()
	t.Logger.Debug().
		Str("state", status.State).
		Bool("alive", status.Alive).
		Int("active_relays", status.ActiveRelays).
		Msg("Tunnel status collected")
	return status
}

// IsEnabled checks if tunnel monitoring is enabled in the configuration.
func (t *TunnelMetricCollector) IsEnabled(config *models.StatsConfig) bool {
	return config.MonitorTunnel && t.Provider != nil
}

// Unit specifies the unit for the tunnel metric.
func (t *TunnelMetricCollector) Unit() string {
	return "status"
}

// Description provides a summary of the tunnel metric collected.
func (t *TunnelMetricCollector) Description() string {
	return "State, liveness and traffic counters of the capture tunnel."
}
