package settlement

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	DefaultEpsilon         = 1e-9
	DefaultMaxParticipants = 10000
)

// Config tunes the numeric policy of an Engine.
type Config struct {
	// Epsilon is the magnitude below which a balance counts as settled.
	Epsilon float64
	// MaxParticipants caps the number of distinct participants per call.
	MaxParticipants int
	// Round enables rounding of balances and transfers to MinorUnits decimal
	// places (2 for cents). Rounding happens once per balance, before netting.
	Round      bool
	MinorUnits int32
}

// DefaultConfig returns the engine defaults: 1e-9 epsilon, no rounding.
func DefaultConfig() Config {
	return Config{
		Epsilon:         DefaultEpsilon,
		MaxParticipants: DefaultMaxParticipants,
	}
}

// Engine turns expense records into a settlement plan. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	epsilon         decimal.Decimal
	maxParticipants int
	round           bool
	places          int32
}

// New creates an engine, replacing non-positive limits with the defaults.
func New(cfg Config) *Engine {
	if cfg.Epsilon <= 0 || math.IsNaN(cfg.Epsilon) || math.IsInf(cfg.Epsilon, 0) {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = DefaultMaxParticipants
	}
	if cfg.MinorUnits < 0 {
		cfg.Round = false
	}
	return &Engine{
		epsilon:         decimal.NewFromFloat(cfg.Epsilon),
		maxParticipants: cfg.MaxParticipants,
		round:           cfg.Round,
		places:          cfg.MinorUnits,
	}
}

var defaultEngine = New(DefaultConfig())

// Settle runs the default engine over records.
func Settle(records []ExpenseRecord) ([]Transfer, error) {
	return defaultEngine.Settle(records)
}

// Settle returns the transfers that bring every participant back to zero.
// An empty input yields an empty, non-nil slice.
func (e *Engine) Settle(records []ExpenseRecord) ([]Transfer, error) {
	plan, err := e.Plan(records)
	if err != nil {
		return nil, err
	}
	return plan.Transfers, nil
}

// Balances returns every participant's net position after all records.
// Positions within epsilon of zero are reported as exactly zero.
func (e *Engine) Balances(records []ExpenseRecord) (map[string]float64, error) {
	ledger, err := e.accumulate(records)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(ledger))
	for id, amount := range ledger {
		out[id] = amount.InexactFloat64()
	}
	return out, nil
}

// Plan computes balances and transfers in one pass.
func (e *Engine) Plan(records []ExpenseRecord) (Plan, error) {
	ledger, err := e.accumulate(records)
	if err != nil {
		return Plan{}, err
	}

	balances := make(map[string]float64, len(ledger))
	for id, amount := range ledger {
		balances[id] = amount.InexactFloat64()
	}

	debtors, creditors := e.partition(ledger)
	return Plan{
		Balances:  balances,
		Transfers: e.net(debtors, creditors),
	}, nil
}

// position is a participant with a non-zero balance awaiting settlement.
type position struct {
	id     string
	amount decimal.Decimal
}

func (e *Engine) accumulate(records []ExpenseRecord) (map[string]decimal.Decimal, error) {
	ledger := make(map[string]decimal.Decimal)
	touch := func(idx int, id string) error {
		if _, ok := ledger[id]; ok {
			return nil
		}
		if len(ledger) >= e.maxParticipants {
			return &InputError{Index: idx, Participant: id, Err: ErrTooManyParticipants}
		}
		ledger[id] = decimal.Zero
		return nil
	}

	for i, rec := range records {
		if err := validateRecord(i, rec); err != nil {
			return nil, err
		}
		amount := decimal.NewFromFloat(rec.Amount)

		if err := touch(i, rec.Payer); err != nil {
			return nil, err
		}
		ledger[rec.Payer] = ledger[rec.Payer].Sub(amount)

		for id, pct := range rec.Shares {
			if err := touch(i, id); err != nil {
				return nil, err
			}
			share := amount.Mul(decimal.NewFromFloat(pct)).Shift(-2)
			ledger[id] = ledger[id].Add(share)
		}
	}

	for id, amount := range ledger {
		if e.round {
			amount = amount.Round(e.places)
		}
		if amount.Abs().LessThanOrEqual(e.epsilon) {
			amount = decimal.Zero
		}
		ledger[id] = amount
	}
	return ledger, nil
}

func validateRecord(idx int, rec ExpenseRecord) error {
	if rec.Payer == "" {
		return &InputError{Index: idx, Err: ErrEmptyParticipant}
	}
	if !finite(rec.Amount) || rec.Amount < 0 {
		return &InputError{Index: idx, Participant: rec.Payer, Err: ErrInvalidAmount}
	}
	for id, pct := range rec.Shares {
		if id == "" {
			return &InputError{Index: idx, Err: ErrEmptyParticipant}
		}
		if !finite(pct) || pct < 0 || pct > 100 {
			return &InputError{Index: idx, Participant: id, Err: ErrInvalidShare}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// partition splits the ledger into debtors (most negative first) and
// creditors (most positive first). Equal balances order by participant id.
func (e *Engine) partition(ledger map[string]decimal.Decimal) (debtors, creditors []position) {
	negEpsilon := e.epsilon.Neg()
	for id, amount := range ledger {
		switch {
		case amount.LessThan(negEpsilon):
			debtors = append(debtors, position{id: id, amount: amount})
		case amount.GreaterThan(e.epsilon):
			creditors = append(creditors, position{id: id, amount: amount})
		}
	}

	sort.Slice(debtors, func(i, j int) bool {
		if c := debtors[i].amount.Cmp(debtors[j].amount); c != 0 {
			return c < 0
		}
		return debtors[i].id < debtors[j].id
	})
	sort.Slice(creditors, func(i, j int) bool {
		if c := creditors[i].amount.Cmp(creditors[j].amount); c != 0 {
			return c > 0
		}
		return creditors[i].id < creditors[j].id
	})
	return debtors, creditors
}

// net matches the head debtor with the head creditor until one side runs out.
func (e *Engine) net(debtors, creditors []position) []Transfer {
	transfers := make([]Transfer, 0, max(len(debtors)+len(creditors)-1, 0))

	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]

		amount := decimal.Min(d.amount.Neg(), c.amount)
		transfers = append(transfers, Transfer{
			From:   c.id,
			To:     d.id,
			Amount: amount.InexactFloat64(),
		})

		d.amount = d.amount.Add(amount)
		c.amount = c.amount.Sub(amount)
		if d.amount.Abs().LessThanOrEqual(e.epsilon) {
			i++
		}
		if c.amount.Abs().LessThanOrEqual(e.epsilon) {
			j++
		}
	}
	return transfers
}
