package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block time.Duration
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) RunOnce(ctx context.Context) error {
	j.runs.Add(1)
	if j.block > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(j.block):
		}
	}
	return nil
}

func TestRunTriggersOnInterval(t *testing.T) {
	job := &countingJob{name: "test"}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	Run(ctx, nil, Schedule{Job: job, Interval: 25 * time.Millisecond})

	runs := job.runs.Load()
	assert.GreaterOrEqual(t, runs, int32(3), "first run is immediate, then ticker-driven")
}

func TestRunSingleFlight(t *testing.T) {
	// The job blocks longer than the interval; ticks must queue behind the
	// running invocation rather than overlap it.
	job := &countingJob{name: "slow", block: 60 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	Run(ctx, nil, Schedule{Job: job, Interval: 10 * time.Millisecond})

	assert.LessOrEqual(t, job.runs.Load(), int32(3))
}

func TestRunHonorsInitialDelay(t *testing.T) {
	job := &countingJob{name: "delayed"}
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	Run(ctx, nil, Schedule{Job: job, Interval: 10 * time.Millisecond, InitialDelay: time.Hour})

	assert.Equal(t, int32(0), job.runs.Load(), "nothing runs before the initial delay elapses")
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &countingJob{name: "test"}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, nil, Schedule{Job: job, Interval: 10 * time.Millisecond})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestUntilNextHour(t *testing.T) {
	base := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Minute, UntilNextHour(base, 15))
	assert.Equal(t, 12*time.Hour+30*time.Minute, UntilNextHour(base, 3), "an hour already past today lands tomorrow")
	assert.Equal(t, 23*time.Hour+30*time.Minute, UntilNextHour(base, 14))
}
