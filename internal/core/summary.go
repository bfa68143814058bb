package core

import (
	"time"

	"settleup/internal/settlement"
)

// UnknownMember is shown for ids that no longer map to a group member.
const UnknownMember = "Unknown User"

// SettlementLine is one transfer rendered with member names.
type SettlementLine struct {
	FromID string
	From   string
	ToID   string
	To     string
	Amount float64
}

// SettlementSummary is the settlement plan of a group as shown to its members.
type SettlementSummary struct {
	GroupID     string
	GroupName   string
	GeneratedAt time.Time
	Settlements []SettlementLine
}

// BuildSummary renders transfers with the display names of g's members.
func BuildSummary(g Group, transfers []settlement.Transfer, now time.Time) SettlementSummary {
	names := g.MemberNames()
	lookup := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return UnknownMember
	}
	lines := make([]SettlementLine, 0, len(transfers))
	for _, t := range transfers {
		lines = append(lines, SettlementLine{
			FromID: t.From,
			From:   lookup(t.From),
			ToID:   t.To,
			To:     lookup(t.To),
			Amount: t.Amount,
		})
	}
	return SettlementSummary{
		GroupID:     g.ID,
		GroupName:   g.Name,
		GeneratedAt: now,
		Settlements: lines,
	}
}

// Total returns the sum of all transfer amounts in cents.
func (s SettlementSummary) Total() Money {
	var cents int64
	for _, l := range s.Settlements {
		cents += CentsFromUnits(l.Amount)
	}
	return Money{Cents: cents}
}
