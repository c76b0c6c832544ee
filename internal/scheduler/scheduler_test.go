package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/bitmage-backend/internal/models"
	"github.com/kjannette/bitmage-backend/internal/scheduler"
)

type countingJobs struct {
	countdown atomic.Int32
	price     atomic.Int32
	chart     atomic.Int32
	sync      atomic.Int32
	rollover  atomic.Int32

	mu      sync.Mutex
	inside  int
	overlap bool
}

func (j *countingJobs) enter() func() {
	j.mu.Lock()
	j.inside++
	if j.inside > 1 {
		j.overlap = true
	}
	j.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return func() {
		j.mu.Lock()
		j.inside--
		j.mu.Unlock()
	}
}

func (j *countingJobs) TickRounds(context.Context) {
	defer j.enter()()
	j.countdown.Add(1)
}

func (j *countingJobs) TickPrice(context.Context) models.Quote {
	defer j.enter()()
	j.price.Add(1)
	return models.Quote{Price: 111000}
}

func (j *countingJobs) RefreshCharts(context.Context) {
	defer j.enter()()
	j.chart.Add(1)
}

func (j *countingJobs) SyncAll(context.Context) {
	defer j.enter()()
	j.sync.Add(1)
}

func (j *countingJobs) Rollover(context.Context) models.PriceState {
	defer j.enter()()
	j.rollover.Add(1)
	return models.PriceState{SessionDate: "2025-06-01", SessionStartPrice: 111000}
}

func TestScheduler_StartStop(t *testing.T) {
	jobs := &countingJobs{}
	sched, err := scheduler.New(jobs, scheduler.Config{
		CountdownInterval: time.Second,
		TickInterval:      time.Second,
		ChartInterval:     time.Second,
		SyncInterval:      time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Start()
	if !sched.Running() {
		t.Fatal("expected running after Start")
	}
	if jobs.rollover.Load() != 1 {
		t.Fatalf("Start should roll the session over once, got %d", jobs.rollover.Load())
	}

	time.Sleep(2500 * time.Millisecond)
	sched.Stop()
	if sched.Running() {
		t.Fatal("expected not running after Stop")
	}

	if jobs.countdown.Load() == 0 || jobs.price.Load() == 0 || jobs.sync.Load() == 0 {
		t.Fatalf("jobs did not fire: countdown=%d price=%d sync=%d",
			jobs.countdown.Load(), jobs.price.Load(), jobs.sync.Load())
	}
	jobs.mu.Lock()
	overlap := jobs.overlap
	jobs.mu.Unlock()
	if overlap {
		t.Fatal("job bodies overlapped")
	}
	t.Logf("countdown=%d price=%d chart=%d sync=%d", jobs.countdown.Load(), jobs.price.Load(),
		jobs.chart.Load(), jobs.sync.Load())

	after := jobs.countdown.Load()
	time.Sleep(1200 * time.Millisecond)
	if jobs.countdown.Load() != after {
		t.Fatal("jobs kept firing after Stop")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	jobs := &countingJobs{}
	sched, err := scheduler.New(jobs, scheduler.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sched.RunNow(scheduler.JobPrice); err != nil {
		t.Fatal(err)
	}
	if jobs.price.Load() != 1 {
		t.Fatal("price job did not run")
	}
	if err := sched.RunNow("nope"); err == nil {
		t.Fatal("unknown job should error")
	}
}

func TestScheduler_BadRolloverSpec(t *testing.T) {
	if _, err := scheduler.New(&countingJobs{}, scheduler.Config{RolloverSpec: "every midnight"}); err == nil {
		t.Fatal("expected error for an invalid cron spec")
	}
}
