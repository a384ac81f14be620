package limiter

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor evicts expired buckets from a MemoryLimiter on a cron schedule.
// Without it, buckets of callers that never come back stay in memory.
type Janitor struct {
	limiter  *MemoryLimiter
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	onEvict  func(n int)

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor for m. schedule accepts cron expressions and
// descriptors such as "@every 1m". onEvict, if set, receives the number of
// buckets dropped by each run.
func NewJanitor(m *MemoryLimiter, schedule string, onEvict func(n int)) *Janitor {
	return &Janitor{
		limiter:  m,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
		onEvict:  onEvict,
	}
}

// Start schedules eviction. An empty schedule disables it.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.schedule == "" || j.running {
		return nil
	}
	if _, err := j.cron.AddFunc(j.schedule, j.run); err != nil {
		return fmt.Errorf("limiter: invalid eviction schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.running = true
	return nil
}

func (j *Janitor) run() {
	n := j.limiter.Evict(j.now())
	if j.onEvict != nil {
		j.onEvict(n)
	}
}

// Stop halts the schedule and waits for a running eviction to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
}
