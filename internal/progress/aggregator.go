package progress

import (
	"time"

	"go.uber.org/zap"
)

const defaultWindow = 5

// AggregatorConfig describes the dependencies of an Aggregator.
type AggregatorConfig struct {
	Source   SnapshotSource
	Tracker  *Tracker
	Window   int
	Location *time.Location
	Logger   *zap.Logger
}

// Aggregator derives dashboard statistics on demand. It holds no state of its own.
type Aggregator struct {
	source   SnapshotSource
	tracker  *Tracker
	window   int
	location *time.Location
	logger   *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Source == nil {
		return nil, newTrackerError(opAggregatorNew, reasonMissingSource, errMissingSource)
	}
	if cfg.Tracker == nil {
		return nil, newTrackerError(opAggregatorNew, reasonMissingTracker, errMissingTracker)
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source:   cfg.Source,
		tracker:  cfg.Tracker,
		window:   window,
		location: location,
		logger:   logger,
	}, nil
}

// Stats returns statistics for the current identity. Anonymous sessions and empty histories
// yield zeroed statistics.
func (a *Aggregator) Stats() DerivedStats {
	identity, bundle, ok := a.source.Snapshot()
	if !ok {
		return ComputeStats(bundle, EmptyLog(), a.window, a.location)
	}
	stats := ComputeStats(bundle, a.tracker.LogFor(identity), a.window, a.location)
	a.logger.Debug("stats computed",
		zap.String("email", identity.Email),
		zap.Int("quiz_average", stats.QuizAverage),
		zap.Int("current_streak", stats.CurrentStreak))
	return stats
}
