package constants

import "time"

const (
	// DefaultStatsInterval is the period between two stats snapshots.
	DefaultStatsInterval = 30 * time.Second

	// DefaultStatsTimeout bounds one round of collection.
	DefaultStatsTimeout = 5 * time.Second

	// StatsWorkers is the size of the collection worker pool.
	StatsWorkers = 4
)
