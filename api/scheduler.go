/*
scheduler.go - Automated expiry sweep scheduler

PURPOSE:
  Reconciliation normally runs lazily, on the first balance view of the
  day. Members who stop opening the bot would keep expired bonus value in
  their balance forever. The scheduler closes that gap: it periodically
  reconciles every member, expiring stale grants and awarding any due
  birthday/event bonuses.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Reconciliation is idempotent, so sweeping an up-to-date member is a
    no-op and overlapping with a lazy reconcile is harmless
  - A failed member does not abort the sweep; it is logged and skipped

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(service, store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loyalty/award.go: The reconciliation the sweep drives
  - handlers.go: GetBalance, the lazy reconciliation path
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// SweepScheduler periodically reconciles every member.
type SweepScheduler struct {
	Service       *loyalty.Service
	Store         loyalty.TxStore
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(svc *loyalty.Service, store loyalty.TxStore) *SweepScheduler {
	return &SweepScheduler{
		Service:       svc,
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.sweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx := context.Background()

	users, err := ss.Store.ListUsers(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing users: %v", err)
		return
	}

	failed := 0
	for _, u := range users {
		if _, err := ss.Service.Reconcile(ctx, u.ID); err != nil {
			log.Printf("[Scheduler] Error reconciling user %d: %v", u.ID, err)
			failed++
		}
	}

	if len(users) > 0 {
		log.Printf("[Scheduler] Sweep completed: %d users, %d failed", len(users), failed)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ss *SweepScheduler) RunNow() {
	ss.sweep()
}
