package models

import "time"

// StatsSnapshot represents the metrics collected at a specific time
type StatsSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	TunnelID  string            `json:"tunnel_id,omitempty"`
	Metrics   map[string]Metric `json:"metrics"`
}

// Metric is a single collected value with its unit.
type Metric struct {
	Value interface{} `json:"value"`
	Unit  string      `json:"unit"`
}

// StatsConfig selects which collectors run.
type StatsConfig struct {
	MonitorTunnel     bool `yaml:"monitor_tunnel" json:"monitor_tunnel"`
	MonitorGoroutines bool `yaml:"monitor_goroutines" json:"monitor_goroutines"`
	MonitorNetwork    bool `yaml:"monitor_network" json:"monitor_network"`
}
