/*
scheduler.go - Flush retry scheduler

PURPOSE:
  A ledger command whose save failed stays applied in memory and its
  persister keeps the snapshot as pending. This scheduler retries those
  saves on a cron schedule until the store accepts them again.

DESIGN:
  - One robfig/cron job walks every ledger with a persister
  - Clean persisters are skipped without touching the store
  - Overlapping runs are skipped, not queued

CONFIGURATION:
  - Spec: cron spec, default "@every 30s" (see config package)

USAGE:
  scheduler := NewFlushScheduler(handler.Ledgers(), logger, metrics)
  if err := scheduler.Start("@every 30s"); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/persist.go: Persister.Flush
  - cmd/server/main.go: final flush on shutdown
*/
package api

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// FlushScheduler periodically retries failed ledger saves.
type FlushScheduler struct {
	ledgers []Ledger
	log     logrus.FieldLogger
	metrics *Metrics

	cron *cron.Cron
	mu   sync.Mutex
}

// NewFlushScheduler creates a scheduler. metrics may be nil.
func NewFlushScheduler(ledgers []Ledger, log logrus.FieldLogger, metrics *Metrics) *FlushScheduler {
	return &FlushScheduler{
		ledgers: ledgers,
		log:     log.WithField("component", "flush-scheduler"),
		metrics: metrics,
	}
}

// Start schedules the retry job. An empty spec leaves the scheduler off.
func (fs *FlushScheduler) Start(spec string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if spec == "" {
		fs.log.Info("disabled, not starting")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { fs.FlushAll(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	fs.cron = c

	fs.log.WithField("spec", spec).Info("started")
	return nil
}

// Stop waits for a running job to finish.
func (fs *FlushScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cron != nil {
		<-fs.cron.Stop().Done()
		fs.cron = nil
		fs.log.Info("stopped")
	}
}

// FlushAll retries every dirty persister once and returns how many are
// still dirty afterwards.
func (fs *FlushScheduler) FlushAll(ctx context.Context) int {
	remaining := 0
	for _, l := range fs.ledgers {
		if l.Persister == nil || !l.Persister.Dirty() {
			continue
		}
		kind := l.Engine.Kind().Name
		err := l.Persister.Flush(ctx)
		if fs.metrics != nil {
			fs.metrics.flushRetried(kind, err)
		}
		if err != nil {
			remaining++
			fs.log.WithError(err).WithField("kind", kind).Warn("flush retry failed")
			continue
		}
		fs.log.WithField("kind", kind).Info("flush retry succeeded")
	}
	return remaining
}
