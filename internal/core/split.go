package core

import (
	"fmt"
	"math"
	"sort"

	"settleup/internal/settlement"
)

// percentTolerance is the slack allowed when caller percentages are summed.
const percentTolerance = 0.01

// SplitRequest is the raw split input for a new expense. Values holds
// percentages for SplitPercentage and major-unit amounts for SplitCustom;
// it is ignored by the other methods.
type SplitRequest struct {
	Method  SplitMethod
	PaidBy  string
	Amount  Money
	PaidFor []string
	Values  map[string]float64
}

// BuildShares normalizes a split request into percentage shares keyed by
// member id. Every participant must belong to g.
func BuildShares(g Group, req SplitRequest) (map[string]float64, error) {
	if err := req.Amount.Validate(); err != nil {
		return nil, err
	}
	if !g.HasMember(req.PaidBy) {
		return nil, fmt.Errorf("payer %s: %w", req.PaidBy, ErrNotMember)
	}

	switch req.Method {
	case SplitEqual:
		return equalShares(g, req.PaidFor)
	case SplitPercentage:
		return percentageShares(g, req.Values)
	case SplitCustom:
		return customShares(g, req.Amount, req.Values)
	case SplitPayment:
		return paymentShares(g, req.PaidBy, req.PaidFor)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSplitMethod, req.Method)
	}
}

func equalShares(g Group, paidFor []string) (map[string]float64, error) {
	ids := paidFor
	if len(ids) == 0 {
		ids = g.MemberIDs()
	}
	ids, err := uniqueMembers(g, ids)
	if err != nil {
		return nil, err
	}
	pct := 100.0 / float64(len(ids))
	shares := make(map[string]float64, len(ids))
	for _, id := range ids {
		shares[id] = pct
	}
	return shares, nil
}

func percentageShares(g Group, values map[string]float64) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no percentages", ErrInvalidShares)
	}
	var total float64
	shares := make(map[string]float64, len(values))
	for id, pct := range values {
		if !g.HasMember(id) {
			return nil, fmt.Errorf("participant %s: %w", id, ErrNotMember)
		}
		if math.IsNaN(pct) || pct < 0 || pct > 100 {
			return nil, fmt.Errorf("%w: %s has %v%%", ErrInvalidShares, id, pct)
		}
		shares[id] = pct
		total += pct
	}
	if math.Abs(total-100) > percentTolerance {
		return nil, fmt.Errorf("%w: percentages sum to %.2f, want 100", ErrInvalidShares, total)
	}
	return shares, nil
}

func customShares(g Group, amount Money, values map[string]float64) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no amounts", ErrInvalidShares)
	}
	var totalCents int64
	cents := make(map[string]int64, len(values))
	for id, v := range values {
		if !g.HasMember(id) {
			return nil, fmt.Errorf("participant %s: %w", id, ErrNotMember)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: %s owes %v", ErrInvalidShares, id, v)
		}
		c := CentsFromUnits(v)
		cents[id] = c
		totalCents += c
	}
	if totalCents != amount.Cents {
		return nil, fmt.Errorf("%w: amounts sum to %s, want %s",
			ErrInvalidShares, FormatUnits(totalCents), FormatUnits(amount.Cents))
	}
	shares := make(map[string]float64, len(cents))
	for id, c := range cents {
		shares[id] = float64(c) * 100 / float64(amount.Cents)
	}
	return shares, nil
}

func paymentShares(g Group, payer string, paidFor []string) (map[string]float64, error) {
	if len(paidFor) != 1 {
		return nil, fmt.Errorf("%w: payment needs exactly one recipient", ErrInvalidShares)
	}
	to := paidFor[0]
	if !g.HasMember(to) {
		return nil, fmt.Errorf("participant %s: %w", to, ErrNotMember)
	}
	if to == payer {
		return nil, ErrPayerIsPayee
	}
	return map[string]float64{to: 100}, nil
}

func uniqueMembers(g Group, ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !g.HasMember(id) {
			return nil, fmt.Errorf("participant %s: %w", id, ErrNotMember)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidShares)
	}
	return out, nil
}

// Record converts the expense into the engine's input form.
func (e GroupExpense) Record() settlement.ExpenseRecord {
	shares := make(map[string]float64, len(e.Shares))
	for id, pct := range e.Shares {
		shares[id] = pct
	}
	return settlement.ExpenseRecord{
		Payer:  e.PaidBy,
		Amount: e.Amount.Units(),
		Shares: shares,
	}
}

// Records converts expenses in order, oldest first by Date then CreatedAt.
func Records(expenses []GroupExpense) []settlement.ExpenseRecord {
	sorted := make([]GroupExpense, len(expenses))
	copy(sorted, expenses)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date.Time) {
			return sorted[i].Date.Before(sorted[j].Date.Time)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	records := make([]settlement.ExpenseRecord, len(sorted))
	for i, e := range sorted {
		records[i] = e.Record()
	}
	return records
}
