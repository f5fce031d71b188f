// package scheduler triggers the batch stages on their intervals. Each job
// runs single-flight: a run still in progress when the next tick fires is
// never overlapped by this process.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a stateless, periodically triggered unit of processing.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Schedule pairs a job with its trigger interval. InitialDelay postpones the
// first run, used to pin daily jobs to a fixed local hour.
type Schedule struct {
	Job          Job
	Interval     time.Duration
	InitialDelay time.Duration
}

// Run starts one loop per schedule and blocks until ctx is cancelled and all
// in-flight runs have finished.
func Run(ctx context.Context, logger *log.Logger, schedules ...Schedule) {
	if logger == nil {
		logger = log.Default()
	}
	var wg sync.WaitGroup
	for _, sched := range schedules {
		wg.Add(1)
		go func(sched Schedule) {
			defer wg.Done()
			runLoop(ctx, logger, sched)
		}(sched)
	}
	wg.Wait()
}

func runLoop(ctx context.Context, logger *log.Logger, sched Schedule) {
	name := sched.Job.Name()
	logger.Printf("[scheduler] %s: every %s (first run in %s)", name, sched.Interval, sched.InitialDelay)

	if sched.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sched.InitialDelay):
		}
	}

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	for {
		runJob(ctx, logger, sched.Job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runJob(ctx context.Context, logger *log.Logger, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job.RunOnce(ctx); err != nil {
		logger.Printf("[scheduler] %s failed after %s: %v", job.Name(), time.Since(start).Round(time.Millisecond), err)
		return
	}
	logger.Printf("[scheduler] %s completed in %s", job.Name(), time.Since(start).Round(time.Millisecond))
}

// UntilNextHour returns the duration from now until the next occurrence of
// the given local hour. Used to align the daily retention sweep.
func UntilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
