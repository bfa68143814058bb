package memory

import (
	"context"
	"testing"

	"settleup/internal/core"
)

func TestExporterKeepsLatestPerGroup(t *testing.T) {
	e := New()
	ctx := context.Background()

	if _, ok := e.Latest("g1"); ok {
		t.Fatal("expected no export before the first call")
	}

	first := core.SettlementSummary{GroupID: "g1", Settlements: []core.SettlementLine{{From: "Ben", To: "Ann", Amount: 10}}}
	if err := e.ExportSummary(ctx, first); err != nil {
		t.Fatalf("export: %v", err)
	}
	first.Settlements[0].Amount = 99

	got, ok := e.Latest("g1")
	if !ok || got.Settlements[0].Amount != 10 {
		t.Fatalf("unexpected latest: %+v ok=%v", got, ok)
	}

	if err := e.ExportSummary(ctx, core.SettlementSummary{GroupID: "g1"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := e.ExportSummary(ctx, core.SettlementSummary{GroupID: "g2"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	got, _ = e.Latest("g1")
	if len(got.Settlements) != 0 {
		t.Fatalf("expected replaced summary, got %+v", got)
	}
	if e.Exports() != 3 {
		t.Fatalf("exports = %d, want 3", e.Exports())
	}
}
