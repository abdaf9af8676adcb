package logger

import (
	"sync"
	"time"
)

// ProgressTracker logs periodic progress for a sequence of steps,
// such as the actions of a resolution script.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int
	current     int
	failed      int
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	now         func() time.Time
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int
	LogInterval time.Duration
	Logger      Logger
	Now         func() time.Time
}

// ProgressStats is a point-in-time view of a tracker.
type ProgressStats struct {
	Operation string        `json:"operation"`
	Total     int           `json:"total"`
	Current   int           `json:"current"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	start := config.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   start,
		lastLogTime: start,
		logInterval: config.LogInterval,
		now:         config.Now,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// Step records one finished step; err marks it as failed.
func (p *ProgressTracker) Step(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	if err != nil {
		p.failed++
	}

	now := p.now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	entry := p.logger.WithFields(p.fields(now))
	if p.failed > 0 {
		entry.Warn("Operation completed with failed steps")
	} else {
		entry.Info("Operation completed")
	}
	return p.stats(now)
}

// Stats returns current progress statistics
func (p *ProgressTracker) Stats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats(p.now())
}

func (p *ProgressTracker) stats(now time.Time) ProgressStats {
	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Failed:    p.failed,
		Duration:  now.Sub(p.startTime),
	}
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	return Fields{
		"operation": p.operation,
		"total":     p.total,
		"processed": p.current,
		"failed":    p.failed,
		"duration":  now.Sub(p.startTime).String(),
	}
}
