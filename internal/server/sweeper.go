package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"sidekick/internal/memory"
	"sidekick/internal/store"
)

// Sweeper prunes turns older than the retention window on a cron schedule.
// A redis lock keeps multiple replicas from pruning at once.
type Sweeper struct {
	Store  *store.Store
	Memory *memory.WorkingMemory
	Cron   string
	Days   int
	Stop   chan struct{}

	logger *log.Logger
}

// Start runs the sweeper loop until Stop is closed. Retention of zero or
// fewer days disables pruning.
func (s *Sweeper) Start() {
	if s.Days <= 0 {
		return
	}
	s.logger = log.New(log.Writer(), "[SWEEPER] ", log.LstdFlags)

	expr, err := cronexpr.Parse(s.Cron)
	if err != nil {
		s.logger.Printf("invalid retention cron %q, using daily: %v", s.Cron, err)
		expr = cronexpr.MustParse("0 3 * * *")
	}

	go func() {
		for {
			next := expr.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-s.Stop:
				timer.Stop()
				return
			case <-timer.C:
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.Memory != nil {
		ok, err := s.Memory.AcquireLock(ctx, "retention-sweep", 10*time.Minute)
		if err != nil {
			s.logger.Printf("lock: %v", err)
			return
		}
		if !ok {
			return // another replica is sweeping
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.Days)
	n, err := s.Store.PruneTurns(ctx, cutoff)
	if err != nil {
		s.logger.Printf("prune turns: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("pruned %d turns older than %s", n, cutoff.Format(time.RFC3339))
	}
}
