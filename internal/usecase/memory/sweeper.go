package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper runs CleanupExpired on a set of layers on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	layers []*Layer
}

// NewSweeper creates a sweeper on the given cron spec (e.g. "@hourly").
func NewSweeper(schedule string, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds a layer to the sweep set.
func (s *Sweeper) Register(l *Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, l)
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	s.mu.Lock()
	layers := make([]*Layer, len(s.layers))
	copy(layers, s.layers)
	s.mu.Unlock()

	ctx := context.Background()
	for _, l := range layers {
		if _, err := l.CleanupExpired(ctx); err != nil {
			s.logger.Warn("memory sweep failed", "scope", l.Scope(), "error", err)
		}
	}
}
