/*
scheduler.go - Automated recurring-rule execution scheduler

PURPOSE:
  Periodically runs the execution engine so that due recurring rules
  produce their transactions without any manual trigger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick evaluates all rules due as of today's calendar date
  - Idempotency is enforced by the execution ledger, so overlapping or
    repeated ticks never double-post a transaction

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExecutionScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessNow endpoint (manual trigger)
  - recur/engine.go: ExecutionEngine
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/recurring-engine/recur"
)

// ExecutionScheduler drives periodic processing of due recurring rules.
type ExecutionScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExecutionScheduler creates a new scheduler.
func NewExecutionScheduler(handler *Handler) *ExecutionScheduler {
	return &ExecutionScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (es *ExecutionScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Scheduler] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler.
func (es *ExecutionScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (es *ExecutionScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.checkAndProcess()

	for {
		select {
		case <-es.ticker.C:
			es.checkAndProcess()
		case <-es.stop:
			return
		}
	}
}

func (es *ExecutionScheduler) checkAndProcess() {
	ctx := context.Background()
	asOf := recur.Today()

	log.Printf("[Scheduler] Processing rules due as of %s", asOf)

	report, err := es.Handler.Service.ProcessDueNow(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error processing due rules: %v", err)
		return
	}

	if report.Attempted > 0 {
		log.Printf("[Scheduler] Completed: %d attempted, %d succeeded, %d failed",
			report.Attempted, report.Succeeded, len(report.Failed))
	}
	for _, f := range report.Failed {
		log.Printf("[Scheduler] Rule %s failed: %s", f.RuleID, f.Err)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (es *ExecutionScheduler) RunNow() {
	es.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExecutionScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
