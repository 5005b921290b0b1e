package export

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the retention sweep every 15 minutes.
const DefaultSweepSchedule = "*/15 * * * *"

// Sweeper periodically expires COMPLETED jobs whose retention lapsed.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper schedules Manager.Sweep on the given cron expression.
func NewSweeper(manager *Manager, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{manager: manager, cron: cron.New(), logger: logger}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule. One sweep runs immediately so restarts do not
// wait a full interval to clear the backlog.
func (s *Sweeper) Start() {
	go s.run()
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	if _, err := s.manager.Sweep(context.Background()); err != nil {
		s.logger.Error("artifact sweep failed", "error", err)
	}
}
