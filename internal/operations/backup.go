package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/kebairia/backupd/internal/orchestrator"
	"github.com/kebairia/backupd/internal/schedule"
	"golang.org/x/sync/errgroup"
)

// Serve registers the cadence, starts the worker and the metrics listener,
// and blocks until ctx is done. A pending retry is dropped on shutdown.
func (om *OperationManager) Serve(ctx context.Context) error {
	log := om.log
	orch := om.Orchestrator

	sched := schedule.New(schedule.WithLocation(om.cfg.Location()))
	if err := sched.Register(om.cfg.Schedule.Cron, orch.Trigger); err != nil {
		return err
	}

	orch.Start()
	sched.Start()
	log.Info("backup schedule registered",
		"product", om.cfg.Product,
		"cron", om.cfg.Schedule.Cron,
		"next", sched.Next(time.Now()).String(),
		"retry_delay", om.cfg.Schedule.RetryDelay.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	if addr := om.cfg.Metrics.Address; addr != "" {
		g.Go(func() error {
			log.Info("metrics listener started", "address", addr)
			if err := om.Metrics.Serve(gctx, addr); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	sched.Stop()
	if stopErr := orch.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	log.Info("backup daemon stopped")
	return err
}

// RunNow executes one cycle immediately. With retry disabled only the
// first attempt runs. It returns an error when the final attempt failed.
func (om *OperationManager) RunNow(ctx context.Context, retry bool) ([]orchestrator.BackupRun, error) {
	var runs []orchestrator.BackupRun
	if retry {
		runs = om.Orchestrator.RunCycle(ctx)
	} else {
		runs = []orchestrator.BackupRun{om.Orchestrator.RunAttempt(ctx, 1)}
	}

	last := runs[len(runs)-1]
	if !last.Succeeded() {
		return runs, fmt.Errorf("backup failed after %d attempt(s): %w", len(runs), last.Err)
	}
	return runs, nil
}
