package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher reloads the store from its durable source on a cron schedule, so
// updates accepted by one instance reach every other instance.
type Refresher struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	mu       sync.Mutex
	running  bool
}

// NewRefresher creates a refresher for store. schedule accepts standard cron
// expressions and descriptors such as "@every 30s".
func NewRefresher(store *Store, schedule string, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With(zap.String("component", "policy.refresher")),
	}
}

// Start schedules the reload job. An empty schedule disables refreshing.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schedule == "" {
		r.logger.Info("policy refresh schedule not configured, skipping")
		return nil
	}
	if r.running {
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() { r.store.Load(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("policy refresher started", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running reload to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}
