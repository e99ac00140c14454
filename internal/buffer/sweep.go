package buffer

import (
	"context"
	"time"

	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

// FlushEnqueuer publishes flush jobs for due buffers.
type FlushEnqueuer interface {
	PublishFlush(ctx context.Context, job jobs.FlushJob) (string, error)
}

type dueScanner interface {
	DueScan(ctx context.Context, now time.Time, quietWindow, maxAge time.Duration) ([]Due, error)
}

// Sweeper finds buffers whose quiet window or age ceiling elapsed and
// hands them to the flush queue. It never claims buffers itself; the
// worker's claim absorbs duplicate jobs, so overlapping sweeps are safe.
type Sweeper struct {
	store       dueScanner
	publisher   FlushEnqueuer
	quietWindow time.Duration
	maxAge      time.Duration
	logger      *logging.Logger
}

type SweeperConfig struct {
	Store       dueScanner
	Publisher   FlushEnqueuer
	QuietWindow time.Duration
	MaxAge      time.Duration
	Logger      *logging.Logger
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Store == nil {
		panic("buffer: sweeper store cannot be nil")
	}
	if cfg.Publisher == nil {
		panic("buffer: sweeper publisher cannot be nil")
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	return &Sweeper{
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		quietWindow: cfg.QuietWindow,
		maxAge:      cfg.MaxAge,
		logger:      cfg.Logger,
	}
}

// RunOnce performs one sweep and returns how many flush jobs were
// enqueued. Publish failures are logged and skipped; the next sweep
// picks those buffers up again.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueScan(ctx, now, s.quietWindow, s.maxAge)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, d := range due {
		jobID, err := s.publisher.PublishFlush(ctx, jobs.FlushJob{
			ConversationID: d.ConversationID,
			BufferID:       d.BufferID,
			Reason:         d.Reason,
		})
		if err != nil {
			s.logger.Error("failed to enqueue flush job",
				"conversation_id", d.ConversationID,
				"buffer_id", d.BufferID,
				"error", err,
			)
			continue
		}
		s.logger.Info("enqueued flush job",
			"job_id", jobID,
			"conversation_id", d.ConversationID,
			"buffer_id", d.BufferID,
			"reason", d.Reason,
		)
		enqueued++
	}
	return enqueued, nil
}
