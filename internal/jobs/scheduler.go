package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"musicaltracker/api/internal/queue"
)

type taskPublisher interface {
	Publish(ctx context.Context, task queue.Task) error
}

// Scheduler periodically asks the worker to retry deletes left delete_pending.
type Scheduler struct {
	cron     *cron.Cron
	queue    taskPublisher
	schedule string
	log      zerolog.Logger
}

func NewScheduler(publisher taskPublisher, schedule string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		queue:    publisher,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueReconcile); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("delete reconciliation scheduled")
	return nil
}

// Stop halts the schedule and waits up to timeout for a running publish.
func (s *Scheduler) Stop(timeout time.Duration) {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(timeout):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) enqueueReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Publish(ctx, queue.Task{Type: queue.TaskReconcileDeletes}); err != nil {
		s.log.Error().Err(err).Msg("enqueue reconcile failed")
	}
}
