package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"settleup/internal/cache"
	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/ports"
	"settleup/internal/settlement"
)

// SettlementService computes and caches per-group settlement summaries.
type SettlementService struct {
	groups   ports.GroupStore
	expenses ports.ExpenseStore
	engine   *settlement.Engine
	cache    *cache.LRUCache[core.SettlementSummary]
	flight   singleflight.Group
	logger   *log.Logger
	slog     *log.StructuredLogger
	now      func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
}

// NewSettlementService wires the service. A nil cache disables caching and a
// nil engine uses the engine defaults.
func NewSettlementService(groups ports.GroupStore, expenses ports.ExpenseStore, engine *settlement.Engine,
	summaries *cache.LRUCache[core.SettlementSummary], logger *log.Logger) *SettlementService {
	if engine == nil {
		engine = settlement.New(settlement.DefaultConfig())
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSettlement)
	return &SettlementService{
		groups:      groups,
		expenses:    expenses,
		engine:      engine,
		cache:       summaries,
		logger:      logger,
		slog:        log.NewStructuredLogger(logger),
		now:         time.Now,
		generations: make(map[string]uint64),
	}
}

// Summary returns the settlement summary of groupID. Concurrent callers for
// the same group share one computation.
func (s *SettlementService) Summary(ctx context.Context, groupID string) (core.SettlementSummary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(groupID); ok {
			s.slog.LogSettlement(ctx, groupID, 0, len(cached.Settlements), true)
			return copySummary(cached), nil
		}
	}

	// The computation is shared, so one caller's cancellation must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(groupID, func() (interface{}, error) {
		gen := s.generation(groupID)
		summary, participants, err := s.compute(shared, groupID)
		if err != nil {
			return core.SettlementSummary{}, err
		}
		if s.cache != nil && s.generation(groupID) == gen {
			s.cache.Set(groupID, summary)
		}
		s.slog.LogSettlement(shared, groupID, participants, len(summary.Settlements), false)
		return summary, nil
	})
	if err != nil {
		return core.SettlementSummary{}, err
	}
	return copySummary(v.(core.SettlementSummary)), nil
}

// Invalidate drops the cached summary of groupID. A computation already in
// flight will not repopulate the cache.
func (s *SettlementService) Invalidate(groupID string) {
	s.mu.Lock()
	s.generations[groupID]++
	s.mu.Unlock()
	s.flight.Forget(groupID)
	if s.cache != nil {
		s.cache.Delete(groupID)
	}
}

func (s *SettlementService) generation(groupID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[groupID]
}

func (s *SettlementService) compute(ctx context.Context, groupID string) (core.SettlementSummary, int, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return core.SettlementSummary{}, 0, fmt.Errorf("load group %s: %w", groupID, err)
	}
	expenses, err := s.expenses.ListExpenses(ctx, groupID)
	if err != nil {
		return core.SettlementSummary{}, 0, fmt.Errorf("load expenses of %s: %w", groupID, err)
	}

	plan, err := s.engine.Plan(core.Records(expenses))
	if err != nil {
		return core.SettlementSummary{}, 0, fmt.Errorf("settle group %s: %w", groupID, err)
	}
	return core.BuildSummary(g, plan.Transfers, s.now().UTC()), len(plan.Balances), nil
}

func copySummary(s core.SettlementSummary) core.SettlementSummary {
	s.Settlements = append(make([]core.SettlementLine, 0, len(s.Settlements)), s.Settlements...)
	return s
}
