package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSharesEqual(t *testing.T) {
	g := testGroup()

	shares, err := BuildShares(g, SplitRequest{Method: SplitEqual, PaidBy: "alice", Amount: Money{Cents: 3000}})
	require.NoError(t, err)
	require.Len(t, shares, 3)
	for _, id := range g.MemberIDs() {
		assert.InDelta(t, 100.0/3, shares[id], 1e-12)
	}

	shares, err = BuildShares(g, SplitRequest{
		Method:  SplitEqual,
		PaidBy:  "alice",
		Amount:  Money{Cents: 3000},
		PaidFor: []string{"bob", "carol", "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bob": 50, "carol": 50}, shares)

	_, err = BuildShares(g, SplitRequest{Method: SplitEqual, PaidBy: "alice", Amount: Money{Cents: 3000}, PaidFor: []string{"dave"}})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestBuildSharesPercentage(t *testing.T) {
	g := testGroup()
	req := SplitRequest{
		Method: SplitPercentage,
		PaidBy: "alice",
		Amount: Money{Cents: 10000},
		Values: map[string]float64{"alice": 33.33, "bob": 33.33, "carol": 33.34},
	}
	shares, err := BuildShares(g, req)
	require.NoError(t, err)
	assert.Equal(t, req.Values, shares)

	req.Values = map[string]float64{"alice": 50, "bob": 40}
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrInvalidShares)

	req.Values = map[string]float64{"alice": 150, "bob": -50}
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrInvalidShares)

	req.Values = nil
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrInvalidShares)
}

func TestBuildSharesCustom(t *testing.T) {
	g := testGroup()
	req := SplitRequest{
		Method: SplitCustom,
		PaidBy: "alice",
		Amount: Money{Cents: 8000},
		Values: map[string]float64{"bob": 20, "carol": 60},
	}
	shares, err := BuildShares(g, req)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, shares["bob"], 1e-12)
	assert.InDelta(t, 75.0, shares["carol"], 1e-12)

	req.Values = map[string]float64{"bob": 20, "carol": 59.99}
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrInvalidShares)
}

func TestBuildSharesPayment(t *testing.T) {
	g := testGroup()
	req := SplitRequest{Method: SplitPayment, PaidBy: "bob", Amount: Money{Cents: 500}, PaidFor: []string{"alice"}}
	shares, err := BuildShares(g, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"alice": 100}, shares)

	req.PaidFor = []string{"bob"}
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrPayerIsPayee)

	req.PaidFor = []string{"alice", "carol"}
	_, err = BuildShares(g, req)
	assert.ErrorIs(t, err, ErrInvalidShares)
}

func TestBuildSharesRejectsBadRequests(t *testing.T) {
	g := testGroup()

	_, err := BuildShares(g, SplitRequest{Method: SplitEqual, PaidBy: "alice"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = BuildShares(g, SplitRequest{Method: SplitEqual, PaidBy: "mallory", Amount: Money{Cents: 1}})
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = BuildShares(g, SplitRequest{Method: "weights", PaidBy: "alice", Amount: Money{Cents: 1}})
	assert.ErrorIs(t, err, ErrInvalidSplitMethod)
}

func TestRecordsOrderAndConversion(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	expenses := []GroupExpense{
		{ID: "late", PaidBy: "bob", Amount: Money{Cents: 500}, Shares: map[string]float64{"alice": 100}, Date: NewDate(2025, 2, 1), CreatedAt: t0},
		{ID: "early", PaidBy: "alice", Amount: Money{Cents: 1050}, Shares: map[string]float64{"alice": 50, "bob": 50}, Date: NewDate(2025, 1, 1), CreatedAt: t0},
	}
	records := Records(expenses)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].Payer)
	assert.Equal(t, 10.5, records[0].Amount)
	assert.Equal(t, "bob", records[1].Payer)

	records[0].Shares["alice"] = 0
	assert.Equal(t, 50.0, expenses[1].Shares["alice"], "records must not alias expense shares")
}
