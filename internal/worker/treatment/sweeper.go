package treatmentworker

import (
	"context"
	"time"

	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

type dueSweeper interface {
	SweepDue(ctx context.Context, limit int) (int, error)
}

// Sweeper completes due treatments for patients who are not connected to
// trigger completion themselves.
type Sweeper struct {
	service   dueSweeper
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
}

// NewSweeper creates a Sweeper with the default interval and batch size.
func NewSweeper(service dueSweeper, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		service:   service,
		logger:    logger,
		interval:  5 * time.Second,
		batchSize: 100,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Sweeper) drain(ctx context.Context) {
	if s.service == nil {
		return
	}
	n, err := s.service.SweepDue(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("treatment sweep failed", "error", err, "completed", n)
		return
	}
	if n > 0 {
		s.logger.Info("treatment sweep completed requests", "completed", n)
	}
}
