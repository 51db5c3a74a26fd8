package txn

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"github.com/tabrev-incubator/tabrev/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper periodically aborts stale transactions across all registered
// tables. A crashed writer leaves its records open, which pins every reader's
// safe revision below the orphaned revision; the sweep is what restores
// liveness, so it runs as its own worker rather than piggybacking on jobs.
type Sweeper struct {
	manager  *Manager
	ledger   *ledger.RevisionLedger
	interval time.Duration
	maxAge   time.Duration

	// keepCommitted bounds the committed history retained per family after a
	// sweep. Zero disables pruning.
	keepCommitted int
}

// NewSweeper creates a Sweeper that wakes every interval and aborts open
// records older than maxAge.
func NewSweeper(manager *Manager, l *ledger.RevisionLedger, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{manager: manager, ledger: l, interval: interval, maxAge: maxAge}
}

// KeepCommitted makes subsequent sweeps prune committed records down to the
// newest keep entries per family.
func (s *Sweeper) KeepCommitted(keep int) *Sweeper {
	s.keepCommitted = keep
	return s
}

// Run blocks until ctx is done, sweeping once at startup and then on every
// tick. Per-table failures
// are logged and retried on the next tick; only ctx cancellation ends the
// loop.
func (s *Sweeper) Run(ctx context.Context) error {
	// Sweep right away: records orphaned while no sweeper was running
	// should not wait out another full interval.
	s.SweepOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce runs one sweep across all registered tables, fanning out one
// goroutine per table.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	tables, err := s.ledger.Tables(ctx)
	if err != nil {
		log.Warn("stale sweep could not list tables", zap.Error(err))
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		table := table
		g.Go(func() error {
			swept, err := s.manager.SweepStale(gctx, table, s.maxAge)
			if err != nil {
				log.Warn("stale sweep failed", zap.String("table", table), zap.Error(err))
				return nil // keep sweeping the other tables
			}
			if swept > 0 {
				log.Info("stale sweep finished", zap.String("table", table), zap.Int("swept", swept))
			}
			if s.keepCommitted > 0 {
				if err := s.manager.PruneCommitted(gctx, table, s.keepCommitted); err != nil {
					log.Warn("committed-record prune failed", zap.String("table", table), zap.Error(err))
				}
			}
			return nil
		})
	}
	g.Wait()
}
