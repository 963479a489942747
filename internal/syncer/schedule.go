package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPullSchedule runs an incremental pull every five minutes.
const DefaultPullSchedule = "@every 5m"

// Scheduler runs periodic incremental pulls against a Service.
type Scheduler struct {
	cron    *cron.Cron
	svc     *Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 5m") and registers the pull job. Nothing runs until Start.
func NewScheduler(svc *Service, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultPullSchedule
	}
	sch := &Scheduler{
		cron:    cron.New(),
		svc:     svc,
		timeout: time.Minute,
		logger:  logger,
	}
	if _, err := sch.cron.AddFunc(spec, sch.pull); err != nil {
		return nil, fmt.Errorf("pull schedule %q: %w", spec, err)
	}
	return sch, nil
}

func (sch *Scheduler) pull() {
	ctx, cancel := context.WithTimeout(context.Background(), sch.timeout)
	defer cancel()

	if _, err := sch.svc.Pull(ctx, Incremental); err != nil {
		// The cached log stays authoritative until the next tick.
		sch.logger.Warn("scheduled pull failed", "error", err)
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// pull in progress to finish.
func (sch *Scheduler) Run(ctx context.Context) error {
	sch.cron.Start()
	sch.logger.Info("pull scheduler started", "entries", len(sch.cron.Entries()))
	<-ctx.Done()
	<-sch.cron.Stop().Done()
	sch.logger.Info("pull scheduler stopped")
	return nil
}
