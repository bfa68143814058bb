package memory

import (
	"context"
	"sync"

	"settleup/internal/core"
	"settleup/internal/ports"
)

// Exporter keeps the last exported summary per group. It stands in for the
// spreadsheet when no Google credentials are configured.
type Exporter struct {
	mu      sync.Mutex
	latest  map[string]core.SettlementSummary
	exports int
}

var _ ports.SummaryExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{latest: make(map[string]core.SettlementSummary)}
}

// ExportSummary records a copy of summary, replacing any earlier export.
func (e *Exporter) ExportSummary(_ context.Context, summary core.SettlementSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	summary.Settlements = append([]core.SettlementLine(nil), summary.Settlements...)
	e.latest[summary.GroupID] = summary
	e.exports++
	return nil
}

// Latest returns the last summary exported for groupID.
func (e *Exporter) Latest(groupID string) (core.SettlementSummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.latest[groupID]
	if ok {
		s.Settlements = append([]core.SettlementLine(nil), s.Settlements...)
	}
	return s, ok
}

// Exports returns how many summaries were exported in total.
func (e *Exporter) Exports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports
}
