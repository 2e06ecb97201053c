// Package reconcile sweeps the denormalized ledger for the duplicates
// and gaps the write-ordering protocol can leave behind after a crash,
// and repairs them.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradeit-market/tradeit/internal/app/domain/market"
	"github.com/tradeit-market/tradeit/internal/app/metrics"
	"github.com/tradeit-market/tradeit/internal/app/services/categories"
	"github.com/tradeit-market/tradeit/internal/app/services/items"
	"github.com/tradeit-market/tradeit/internal/app/services/transactions"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

// DefaultSchedule is how often the sweeper runs when unconfigured.
const DefaultSchedule = "@every 1m"

// Report summarises one sweep.
type Report struct {
	RunAt time.Time `json:"run_at"`

	// MirrorsMissing counts category copies whose personal mirror was
	// absent and has been rewritten.
	MirrorsMissing int `json:"mirrors_missing"`
	// MirrorsDiverged counts mirrors whose fields drifted from the
	// category copy and have been overwritten with it.
	MirrorsDiverged int `json:"mirrors_diverged"`
	// OrphanedMirrors counts mirror copies whose category copy is gone
	// and which have been removed.
	OrphanedMirrors int `json:"orphaned_mirrors"`
	// HalfPromoted counts transactions found in both the pending and
	// completed collections; the pending leftover has been deleted.
	HalfPromoted int `json:"half_promoted"`
}

// Total returns the number of findings in the report.
func (r Report) Total() int {
	return r.MirrorsMissing + r.MirrorsDiverged + r.OrphanedMirrors + r.HalfPromoted
}

// Sweeper periodically reconciles the item ledger and the transaction
// state machine. It implements the lifecycle service contract.
type Sweeper struct {
	store    treestore.Store
	schedule string
	log      *logger.Logger

	cron *cron.Cron

	mu   sync.Mutex
	last *Report
}

// NewSweeper creates a sweeper over the given store. An empty schedule
// falls back to DefaultSchedule.
func NewSweeper(store treestore.Store, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Sweeper{store: store, schedule: schedule, log: log}
}

// Name identifies the sweeper to the lifecycle manager.
func (s *Sweeper) Name() string { return "reconcile" }

// Start begins the periodic sweep.
func (s *Sweeper) Start(context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			s.log.WithError(err).Error("reconciliation sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.schedule).Info("reconciliation sweeper started")
	return nil
}

// Stop halts the periodic sweep, waiting for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// LastReport returns the most recent sweep result, or false when no
// sweep has completed yet.
func (s *Sweeper) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Run executes one full sweep and repairs everything it finds.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	report := Report{RunAt: time.Now().UTC()}

	if err := s.sweepListings(ctx, &report); err != nil {
		metrics.RecordReconcileRun(false)
		return report, err
	}
	if err := s.sweepMirrors(ctx, &report); err != nil {
		metrics.RecordReconcileRun(false)
		return report, err
	}
	if err := s.sweepTransactions(ctx, &report); err != nil {
		metrics.RecordReconcileRun(false)
		return report, err
	}

	metrics.RecordReconcileRun(true)
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	entry := s.log.WithField("findings", report.Total())
	if report.Total() > 0 {
		entry.WithField("mirrors_missing", report.MirrorsMissing).
			WithField("mirrors_diverged", report.MirrorsDiverged).
			WithField("orphaned_mirrors", report.OrphanedMirrors).
			WithField("half_promoted", report.HalfPromoted).
			Warn("reconciliation repaired inconsistencies")
	} else {
		entry.Debug("reconciliation sweep clean")
	}
	return report, nil
}

// sweepListings walks every category copy and restores the personal
// mirror the dual-write protocol may have failed to reach.
func (s *Sweeper) sweepListings(ctx context.Context, report *Report) error {
	cats, err := s.store.Children(ctx, "categories", "")
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	for _, cat := range cats {
		listed, err := s.store.Children(ctx, categories.ItemsPath(cat.Key), "")
		if err != nil {
			return fmt.Errorf("list items of %s: %w", cat.Key, err)
		}
		for _, node := range listed {
			if node.Value == nil {
				continue
			}
			item := market.ItemFromFields(node.Key, node.Value)
			if item.PosterID == "" {
				continue
			}
			mirrorPath := items.MirrorPath(item.PosterID, node.Key)
			mirror, ok, err := s.store.ReadOnce(ctx, mirrorPath)
			if err != nil {
				return fmt.Errorf("read mirror %s: %w", mirrorPath, err)
			}
			switch {
			case !ok:
				if err := s.store.Write(ctx, mirrorPath, node.Value); err != nil {
					return fmt.Errorf("restore mirror %s: %w", mirrorPath, err)
				}
				report.MirrorsMissing++
				metrics.RecordReconcileFinding("mirror_missing")
				s.log.WithField("item_id", node.Key).
					WithField("poster_id", item.PosterID).
					Warn("restored missing mirror copy")
			case item != market.ItemFromFields(node.Key, mirror):
				if err := s.store.Write(ctx, mirrorPath, node.Value); err != nil {
					return fmt.Errorf("repair mirror %s: %w", mirrorPath, err)
				}
				report.MirrorsDiverged++
				metrics.RecordReconcileFinding("mirror_diverged")
				s.log.WithField("item_id", node.Key).
					WithField("poster_id", item.PosterID).
					Warn("overwrote diverged mirror copy")
			}
		}
	}
	return nil
}

// sweepMirrors walks every personal mirror and drops entries whose
// category copy no longer exists. The category copy is authoritative:
// its removal means the item was withdrawn or acquired, and only the
// mirror cleanup was lost.
func (s *Sweeper) sweepMirrors(ctx context.Context, report *Report) error {
	users, err := s.store.Children(ctx, "users", "")
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		mirrored, err := s.store.Children(ctx, items.MirrorBase(user.Key), "")
		if err != nil {
			return fmt.Errorf("list mirror of %s: %w", user.Key, err)
		}
		for _, node := range mirrored {
			if node.Value == nil {
				continue
			}
			item := market.ItemFromFields(node.Key, node.Value)
			if item.CategoryID == "" {
				continue
			}
			_, ok, err := s.store.ReadOnce(ctx, items.CategoryPath(item.CategoryID, node.Key))
			if err != nil {
				return fmt.Errorf("read listing %s: %w", node.Key, err)
			}
			if ok {
				continue
			}
			if err := s.store.Delete(ctx, items.MirrorPath(user.Key, node.Key)); err != nil {
				return fmt.Errorf("drop orphaned mirror %s: %w", node.Key, err)
			}
			report.OrphanedMirrors++
			metrics.RecordReconcileFinding("orphaned_mirror")
			s.log.WithField("item_id", node.Key).
				WithField("poster_id", user.Key).
				Warn("dropped orphaned mirror copy")
		}
	}
	return nil
}

// sweepTransactions finishes promotions that died between the completed
// write and the pending delete.
func (s *Sweeper) sweepTransactions(ctx context.Context, report *Report) error {
	pending, err := s.store.Children(ctx, transactions.PendingPath, "")
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, node := range pending {
		if node.Value == nil {
			continue
		}
		_, ok, err := s.store.ReadOnce(ctx, transactions.CompletedPath+"/"+node.Key)
		if err != nil {
			return fmt.Errorf("read completed %s: %w", node.Key, err)
		}
		if !ok {
			continue
		}
		if err := s.store.Delete(ctx, transactions.PendingPath+"/"+node.Key); err != nil {
			return fmt.Errorf("drop promoted pending %s: %w", node.Key, err)
		}
		report.HalfPromoted++
		metrics.RecordReconcileFinding("half_promoted")
		s.log.WithField("transaction_id", node.Key).
			Warn("removed pending leftover of promoted transaction")
	}
	return nil
}
