package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/metrics_collectors"
	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/benmeehan/traffic-capture/internal/utils"
	"github.com/rs/zerolog"
)

// StatsService periodically collects tunnel and host statistics and logs them.
type StatsService struct {
	config   models.StatsConfig
	interval time.Duration
	timeout  time.Duration
	provider metrics_collectors.TunnelStatusProvider
	logger   zerolog.Logger
	registry *metrics_collectors.MetricsRegistry

	mu         sync.Mutex
	workerPool *utils.WorkerPool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewStatsService initializes and returns a new instance of StatsService.
func NewStatsService(
	config models.StatsConfig,
	interval, timeout time.Duration,
	provider metrics_collectors.TunnelStatusProvider,
	logger zerolog.Logger,
) *StatsService {
	service := &StatsService{
		config:   config,
		interval: interval,
		timeout:  timeout,
		provider: provider,
		logger:   logger,
		registry: metrics_collectors.NewMetricsRegistry(),
	}

	service.registerDefaultCollectors()
	return service
}

func (s *StatsService) registerDefaultCollectors() {
	s.registry.Register(&metrics_collectors.TunnelMetricCollector{Logger: s.logger, Provider: s.provider})
	s.registry.Register(&metrics_collectors.GoroutineMetricCollector{Logger: s.logger})
	s.registry.Register(&metrics_collectors.NetworkMetricCollector{Logger: s.logger})
}

// Start initiates periodic stats collection.
func (s *StatsService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("StatsService is already running")
		return errors.New("stats service is already running")
	}
	if !s.config.MonitorTunnel && !s.config.MonitorGoroutines && !s.config.MonitorNetwork {
		return errors.New("no stats collectors enabled in configuration")
	}

	s.logger.Info().Msg("Starting StatsService...")

	s.workerPool = utils.NewWorkerPool(constants.StatsWorkers)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.runCollectionLoop()

	s.logger.Info().Dur("interval", s.interval).Msg("StatsService started successfully")
	return nil
}

func (s *StatsService) runCollectionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := s.Collect()
			s.logger.Info().
				Str("tunnel_id", snapshot.TunnelID).
				Interface("metrics", snapshot.Metrics).
				Msg("Stats collected")
		case <-s.ctx.Done():
			s.logger.Info().Msg("Stopping stats collection")
			return
		}
	}
}

// Collect runs every enabled collector concurrently on the worker pool.
// The service must be running.
func (s *StatsService) Collect() *models.StatsSnapshot {
	snapshot := &models.StatsSnapshot{
		Timestamp: time.Now().UTC(),
		Metrics:   make(map[string]models.Metric),
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var snapshotMu sync.Mutex

	for name, collector := range s.registry.GetCollectors() {
		if !collector.IsEnabled(&s.config) {
			continue
		}
		wg.Add(1)
		s.workerPool.Submit(func() {
			defer wg.Done()
			value := collector.Collect(ctx)
			if value == nil {
				return
			}

			snapshotMu.Lock()
			defer snapshotMu.Unlock()
			snapshot.Metrics[name] = models.Metric{Value: value, Unit: collector.Unit()}
			if status, ok := value.(models.TunnelStatus); ok {
				snapshot.TunnelID = status.ID
			}
		})
	}

	wg.Wait()
	return snapshot
}

// Stop stops the collection loop and the worker pool.
func (s *StatsService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("StatsService is not running")
		return errors.New("stats service is not running")
	}

	s.logger.Info().Msg("Stopping StatsService...")
	s.cancel()
	s.wg.Wait()
	s.workerPool.Shutdown()
	s.ctx = nil
	s.logger.Info().Msg("StatsService stopped successfully")
	return nil
}
