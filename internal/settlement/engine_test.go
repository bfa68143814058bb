package settlement

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_TwoPersonSplit(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 100, Shares: map[string]float64{"A": 50, "B": 50}},
	}

	balances, err := New(DefaultConfig()).Balances(records)
	require.NoError(t, err)
	assert.InDelta(t, -50, balances["A"], 1e-9)
	assert.InDelta(t, 50, balances["B"], 1e-9)

	transfers, err := Settle(records)
	require.NoError(t, err)
	assert.Equal(t, []Transfer{{From: "B", To: "A", Amount: 50}}, transfers)
}

func TestSettle_ThreePersonOnePayer(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 90, Shares: map[string]float64{"A": 33.33, "B": 33.33, "C": 33.34}},
	}

	plan, err := New(DefaultConfig()).Plan(records)
	require.NoError(t, err)
	assert.InDelta(t, -60, plan.Balances["A"], 0.01)
	assert.InDelta(t, 30, plan.Balances["B"], 0.01)
	assert.InDelta(t, 30, plan.Balances["C"], 0.01)

	require.Len(t, plan.Transfers, 2)
	// C carries the larger share, so it settles first.
	assert.Equal(t, "C", plan.Transfers[0].From)
	assert.Equal(t, "B", plan.Transfers[1].From)
	for _, tr := range plan.Transfers {
		assert.Equal(t, "A", tr.To)
		assert.InDelta(t, 30, tr.Amount, 0.01)
	}
	assert.InDelta(t, 60.003, plan.Transfers[0].Amount+plan.Transfers[1].Amount, 1e-9)
}

func TestSettle_AlreadyBalancedGroup(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 40, Shares: map[string]float64{"B": 100}},
		{Payer: "B", Amount: 40, Shares: map[string]float64{"A": 100}},
	}

	plan, err := New(DefaultConfig()).Plan(records)
	require.NoError(t, err)
	assert.Equal(t, 0.0, plan.Balances["A"])
	assert.Equal(t, 0.0, plan.Balances["B"])
	assert.Empty(t, plan.Transfers)
}

func TestSettle_SelfExpense(t *testing.T) {
	transfers, err := Settle([]ExpenseRecord{
		{Payer: "A", Amount: 75.5, Shares: map[string]float64{"A": 100}},
	})
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestSettle_ChainedUnequalAmounts(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 120, Shares: map[string]float64{"A": 25, "B": 25, "C": 25, "D": 25}},
		{Payer: "B", Amount: 60, Shares: map[string]float64{"A": 50, "C": 50}},
		{Payer: "C", Amount: 45, Shares: map[string]float64{"D": 100}},
	}

	plan, err := New(DefaultConfig()).Plan(records)
	require.NoError(t, err)

	assert.InDelta(t, 0, sumBalances(plan.Balances), 1e-9)
	assert.InDelta(t, positiveTotal(plan.Balances), sumTransfers(plan.Transfers), 1e-9)
	assert.Equal(t, []Transfer{
		{From: "D", To: "A", Amount: 60},
		{From: "D", To: "B", Amount: 15},
		{From: "C", To: "B", Amount: 15},
	}, plan.Transfers)
}

func TestSettle_EmptyInput(t *testing.T) {
	transfers, err := Settle(nil)
	require.NoError(t, err)
	assert.NotNil(t, transfers)
	assert.Empty(t, transfers)
}

func TestSettle_PayerOutsideShares(t *testing.T) {
	transfers, err := Settle([]ExpenseRecord{
		{Payer: "A", Amount: 50, Shares: map[string]float64{"B": 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Transfer{{From: "B", To: "A", Amount: 50}}, transfers)
}

func TestSettle_TieBreakByParticipant(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 100, Shares: map[string]float64{"C": 50, "B": 50}},
		{Payer: "Z", Amount: 100, Shares: map[string]float64{"Y": 50, "X": 50}},
	}

	transfers, err := Settle(records)
	require.NoError(t, err)
	assert.Equal(t, []Transfer{
		{From: "B", To: "A", Amount: 50},
		{From: "C", To: "A", Amount: 50},
		{From: "X", To: "Z", Amount: 50},
		{From: "Y", To: "Z", Amount: 50},
	}, transfers)
}

func TestSettle_FloatingPointDriftIsAbsorbed(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 0.3, Shares: map[string]float64{"B": 100}},
		{Payer: "B", Amount: 0.1, Shares: map[string]float64{"A": 100}},
		{Payer: "B", Amount: 0.2, Shares: map[string]float64{"A": 100}},
	}

	plan, err := New(DefaultConfig()).Plan(records)
	require.NoError(t, err)
	assert.Equal(t, 0.0, plan.Balances["A"])
	assert.Equal(t, 0.0, plan.Balances["B"])
	assert.Empty(t, plan.Transfers)
}

func TestSettle_EqualThirds(t *testing.T) {
	third := 100.0 / 3
	records := []ExpenseRecord{
		{Payer: "A", Amount: 10, Shares: map[string]float64{"A": third, "B": third, "C": third}},
	}

	transfers, err := Settle(records)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	for _, tr := range transfers {
		assert.Equal(t, "A", tr.To)
		assert.InDelta(t, 10.0/3, tr.Amount, 1e-9)
	}
}

func TestSettle_RoundToMinorUnits(t *testing.T) {
	third := 100.0 / 3
	engine := New(Config{Round: true, MinorUnits: 2})

	plan, err := engine.Plan([]ExpenseRecord{
		{Payer: "A", Amount: 100, Shares: map[string]float64{"A": third, "B": third, "C": third}},
	})
	require.NoError(t, err)

	assert.Equal(t, -66.67, plan.Balances["A"])
	assert.Equal(t, 33.33, plan.Balances["B"])
	assert.Equal(t, []Transfer{
		{From: "B", To: "A", Amount: 33.33},
		{From: "C", To: "A", Amount: 33.33},
	}, plan.Transfers)
}

func TestNew_NormalizesConfig(t *testing.T) {
	e := New(Config{Epsilon: math.NaN(), MaxParticipants: -1, Round: true, MinorUnits: -1})
	assert.Equal(t, DefaultMaxParticipants, e.maxParticipants)
	assert.False(t, e.round)
	assert.Equal(t, "0.000000001", e.epsilon.String())
}

func TestSettle_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		records []ExpenseRecord
		wantErr error
		index   int
	}{
		{
			name:    "NaN amount",
			records: []ExpenseRecord{{Payer: "A", Amount: math.NaN(), Shares: map[string]float64{"A": 100}}},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "infinite amount",
			records: []ExpenseRecord{{Payer: "A", Amount: math.Inf(1)}},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "negative amount in second record",
			records: []ExpenseRecord{
				{Payer: "A", Amount: 10, Shares: map[string]float64{"B": 100}},
				{Payer: "B", Amount: -5, Shares: map[string]float64{"A": 100}},
			},
			wantErr: ErrInvalidAmount,
			index:   1,
		},
		{
			name:    "percentage above 100",
			records: []ExpenseRecord{{Payer: "A", Amount: 10, Shares: map[string]float64{"B": 100.5}}},
			wantErr: ErrInvalidShare,
		},
		{
			name:    "negative percentage",
			records: []ExpenseRecord{{Payer: "A", Amount: 10, Shares: map[string]float64{"B": -1}}},
			wantErr: ErrInvalidShare,
		},
		{
			name:    "NaN percentage",
			records: []ExpenseRecord{{Payer: "A", Amount: 10, Shares: map[string]float64{"B": math.NaN()}}},
			wantErr: ErrInvalidShare,
		},
		{
			name:    "empty payer",
			records: []ExpenseRecord{{Payer: "", Amount: 10, Shares: map[string]float64{"B": 100}}},
			wantErr: ErrEmptyParticipant,
		},
		{
			name:    "empty participant",
			records: []ExpenseRecord{{Payer: "A", Amount: 10, Shares: map[string]float64{"": 100}}},
			wantErr: ErrEmptyParticipant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfers, err := Settle(tt.records)
			require.Error(t, err)
			assert.Nil(t, transfers)
			assert.ErrorIs(t, err, tt.wantErr)

			var inputErr *InputError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, tt.index, inputErr.Index)
		})
	}
}

func TestSettle_TooManyParticipants(t *testing.T) {
	engine := New(Config{MaxParticipants: 2})

	_, err := engine.Settle([]ExpenseRecord{
		{Payer: "A", Amount: 30, Shares: map[string]float64{"A": 50, "B": 50}},
	})
	require.NoError(t, err)

	_, err = engine.Settle([]ExpenseRecord{
		{Payer: "A", Amount: 30, Shares: map[string]float64{"B": 50, "C": 50}},
	})
	assert.ErrorIs(t, err, ErrTooManyParticipants)
}

func TestSettle_ZeroAmountIsNoop(t *testing.T) {
	transfers, err := Settle([]ExpenseRecord{
		{Payer: "A", Amount: 0, Shares: map[string]float64{"B": 100}},
	})
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestSettle_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	engine := New(DefaultConfig())

	for iter := 0; iter < 200; iter++ {
		records := randomRecords(rng)

		t.Run(fmt.Sprintf("case_%d", iter), func(t *testing.T) {
			plan, err := engine.Plan(records)
			require.NoError(t, err)

			var debtors, creditors int
			for _, b := range plan.Balances {
				if b < 0 {
					debtors++
				} else if b > 0 {
					creditors++
				}
			}

			assert.InDelta(t, 0, sumBalances(plan.Balances), 1e-6, "zero-sum")
			assert.InDelta(t, positiveTotal(plan.Balances), sumTransfers(plan.Transfers), 1e-6, "conservation")
			if debtors+creditors > 0 {
				assert.LessOrEqual(t, len(plan.Transfers), debtors+creditors-1)
			}
			for _, tr := range plan.Transfers {
				assert.NotEqual(t, tr.From, tr.To, "self transfer")
				assert.Greater(t, tr.Amount, 0.0, "positive amount")
			}

			again, err := engine.Settle(records)
			require.NoError(t, err)
			assert.Equal(t, plan.Transfers, again, "deterministic")
		})
	}
}

func TestSettle_ConcurrentCallers(t *testing.T) {
	records := []ExpenseRecord{
		{Payer: "A", Amount: 120, Shares: map[string]float64{"A": 25, "B": 25, "C": 25, "D": 25}},
		{Payer: "B", Amount: 60, Shares: map[string]float64{"A": 50, "C": 50}},
	}
	want, err := Settle(records)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]Transfer, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Settle(records)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestInputError_Message(t *testing.T) {
	assert.Equal(t, "settlement record 2 (bob): invalid amount",
		(&InputError{Index: 2, Participant: "bob", Err: ErrInvalidAmount}).Error())
	assert.Equal(t, "settlement record 0: empty participant identifier",
		(&InputError{Index: 0, Err: ErrEmptyParticipant}).Error())
	assert.Equal(t, "settlement input: too many participants",
		(&InputError{Index: -1, Err: ErrTooManyParticipants}).Error())
}

func randomRecords(rng *rand.Rand) []ExpenseRecord {
	people := []string{"ann", "bob", "cid", "dan", "eve", "fay", "gus", "hal"}
	n := rng.Intn(12)
	records := make([]ExpenseRecord, 0, n)
	for i := 0; i < n; i++ {
		payer := people[rng.Intn(len(people))]
		amount := float64(rng.Intn(100000)) / 100

		k := 1 + rng.Intn(len(people))
		perm := rng.Perm(len(people))[:k]
		shares := make(map[string]float64, k)
		remaining := 100.0
		for j, idx := range perm {
			if j == k-1 {
				shares[people[idx]] = math.Max(remaining, 0)
				break
			}
			pct := math.Min(math.Round(rng.Float64()*remaining*100)/100, remaining)
			shares[people[idx]] = pct
			remaining -= pct
		}
		records = append(records, ExpenseRecord{Payer: payer, Amount: amount, Shares: shares})
	}
	return records
}

func sumBalances(balances map[string]float64) float64 {
	var total float64
	for _, b := range balances {
		total += b
	}
	return total
}

func positiveTotal(balances map[string]float64) float64 {
	var total float64
	for _, b := range balances {
		if b > 0 {
			total += b
		}
	}
	return total
}

func sumTransfers(transfers []Transfer) float64 {
	var total float64
	for _, tr := range transfers {
		total += tr.Amount
	}
	return total
}
