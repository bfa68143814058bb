package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/ports"
)

// Reasons carried by group-changed events.
const (
	ReasonGroupCreated   = "group_created"
	ReasonGroupDeleted   = "group_deleted"
	ReasonMemberAdded    = "member_added"
	ReasonExpenseAdded   = "expense_added"
	ReasonExpenseUpdated = "expense_updated"
	ReasonExpenseDeleted = "expense_deleted"
)

// Invalidator drops derived state for a group after its ledger changed.
type Invalidator interface {
	Invalidate(groupID string)
}

// ExpenseInput is a new expense as submitted by a client.
type ExpenseInput struct {
	GroupID     string
	PaidBy      string
	Amount      core.Money
	Description string
	Date        core.Date
	Method      core.SplitMethod
	PaidFor     []string
	Values      map[string]float64
}

// ExpenseUpdate is a partial edit of a stored expense. Nil fields keep the
// stored value.
type ExpenseUpdate struct {
	PaidBy      *string
	Amount      *core.Money
	Description *string
	Date        *core.Date
	Method      *core.SplitMethod
	PaidFor     []string
	Values      map[string]float64
}

// changesSplit reports whether the edit touches any input of the share split.
func (u ExpenseUpdate) changesSplit() bool {
	return u.PaidBy != nil || u.Amount != nil || u.Method != nil || u.PaidFor != nil || u.Values != nil
}

// ExpenseService orchestrates group and expense operations across the store,
// the settlement cache and the event publisher.
type ExpenseService struct {
	store       ports.Store
	publisher   ports.EventPublisher
	invalidator Invalidator
	logger      *log.Logger
	slog        *log.StructuredLogger
	now         func() time.Time
}

// NewExpenseService wires the service. publisher and invalidator may be nil.
func NewExpenseService(store ports.Store, publisher ports.EventPublisher, invalidator Invalidator, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentExpense)
	return &ExpenseService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      logger,
		slog:        log.NewStructuredLogger(logger),
		now:         time.Now,
	}
}

func (s *ExpenseService) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	created, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		return core.Group{}, fmt.Errorf("save group: %w", err)
	}
	s.logger.InfoContext(ctx, "Group created", log.FieldGroupID, created.ID, "members", len(created.Members))
	s.publish(ctx, created.ID, ReasonGroupCreated)
	return created, nil
}

// DeleteGroup removes a group with all its expenses.
func (s *ExpenseService) DeleteGroup(ctx context.Context, id string) error {
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	s.logger.InfoContext(ctx, "Group deleted", log.FieldGroupID, id)
	s.changed(ctx, id, ReasonGroupDeleted)
	return nil
}

// AddMember adds a member to an existing group.
func (s *ExpenseService) AddMember(ctx context.Context, groupID string, m core.Member) (core.Group, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	if err := m.Validate(); err != nil {
		return core.Group{}, err
	}
	g, err := s.store.AddMember(ctx, groupID, m)
	if err != nil {
		return core.Group{}, fmt.Errorf("add member: %w", err)
	}
	s.logger.InfoContext(ctx, "Member added", log.FieldGroupID, groupID, "member_id", m.ID, "members", len(g.Members))
	s.changed(ctx, groupID, ReasonMemberAdded)
	return g, nil
}

func (s *ExpenseService) ListMembers(ctx context.Context, groupID string) ([]core.Member, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (s *ExpenseService) GetGroup(ctx context.Context, id string) (core.Group, error) {
	return s.store.GetGroup(ctx, id)
}

func (s *ExpenseService) ListGroups(ctx context.Context) ([]core.Group, error) {
	return s.store.ListGroups(ctx)
}

// AddExpense normalizes the split into percentage shares, stores the expense,
// invalidates the group's settlement and announces the change.
func (s *ExpenseService) AddExpense(ctx context.Context, in ExpenseInput) (core.GroupExpense, error) {
	g, err := s.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return core.GroupExpense{}, err
	}

	shares, err := core.BuildShares(g, core.SplitRequest{
		Method:  in.Method,
		PaidBy:  in.PaidBy,
		Amount:  in.Amount,
		PaidFor: in.PaidFor,
		Values:  in.Values,
	})
	if err != nil {
		return core.GroupExpense{}, err
	}

	date := in.Date
	if date.IsZero() {
		y, m, d := s.now().UTC().Date()
		date = core.NewDate(y, int(m), d)
	}
	e := core.GroupExpense{
		GroupID:     g.ID,
		PaidBy:      in.PaidBy,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		PaidFor:     in.PaidFor,
		Method:      in.Method,
		Shares:      shares,
		Date:        date,
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}

	saved, err := s.store.AddExpense(ctx, e)
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("save expense: %w", err)
	}
	s.slog.LogExpenseAdded(ctx, saved.GroupID, saved.ID, saved.Amount.Cents, string(saved.Method))

	s.changed(ctx, g.ID, ReasonExpenseAdded)
	return saved, nil
}

func (s *ExpenseService) ListExpenses(ctx context.Context, groupID string) ([]core.GroupExpense, error) {
	return s.store.ListExpenses(ctx, groupID)
}

// UpdateExpense applies a partial edit. When any split input changes the
// shares are rebuilt; the settlement is invalidated and the change announced
// as for a new expense.
func (s *ExpenseService) UpdateExpense(ctx context.Context, groupID, expenseID string, upd ExpenseUpdate) (core.GroupExpense, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return core.GroupExpense{}, err
	}
	current, err := s.store.GetExpense(ctx, groupID, expenseID)
	if err != nil {
		return core.GroupExpense{}, err
	}

	e := current
	if upd.PaidBy != nil {
		e.PaidBy = strings.TrimSpace(*upd.PaidBy)
	}
	if upd.Amount != nil {
		e.Amount = *upd.Amount
	}
	if upd.Description != nil {
		e.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Date != nil && !upd.Date.IsZero() {
		e.Date = *upd.Date
	}
	if upd.Method != nil {
		e.Method = *upd.Method
	}

	if upd.changesSplit() {
		paidFor := upd.PaidFor
		if paidFor == nil {
			paidFor = carriedPaidFor(g, current)
		}
		values := upd.Values
		if values == nil {
			if values, err = carriedValues(current, e); err != nil {
				return core.GroupExpense{}, err
			}
		}
		shares, err := core.BuildShares(g, core.SplitRequest{
			Method:  e.Method,
			PaidBy:  e.PaidBy,
			Amount:  e.Amount,
			PaidFor: paidFor,
			Values:  values,
		})
		if err != nil {
			return core.GroupExpense{}, err
		}
		e.PaidFor, e.Shares = paidFor, shares
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}

	saved, err := s.store.UpdateExpense(ctx, e)
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("update expense: %w", err)
	}
	s.logger.InfoContext(ctx, "Expense updated",
		log.FieldGroupID, groupID,
		log.FieldExpenseID, expenseID,
		log.FieldAmountCents, saved.Amount.Cents,
		log.FieldSplitMethod, string(saved.Method))
	s.changed(ctx, groupID, ReasonExpenseUpdated)
	return saved, nil
}

// carriedPaidFor returns the stored beneficiaries. An equal split booked for
// "everyone" keeps the members it was split between, not members added later.
func carriedPaidFor(g core.Group, current core.GroupExpense) []string {
	if len(current.PaidFor) > 0 || current.Method != core.SplitEqual {
		return current.PaidFor
	}
	ids := make([]string, 0, len(current.Shares))
	for _, id := range g.MemberIDs() {
		if _, ok := current.Shares[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// carriedValues derives split values from the stored shares when the edit
// keeps the split method. Custom amounts can only be carried while the total
// stays the same.
func carriedValues(current, edited core.GroupExpense) (map[string]float64, error) {
	if current.Method != edited.Method {
		return nil, nil
	}
	switch edited.Method {
	case core.SplitPercentage:
		values := make(map[string]float64, len(current.Shares))
		for id, pct := range current.Shares {
			values[id] = pct
		}
		return values, nil
	case core.SplitCustom:
		if current.Amount != edited.Amount {
			return nil, fmt.Errorf("%w: custom split needs new amounts when the total changes", core.ErrInvalidShares)
		}
		values := make(map[string]float64, len(current.Shares))
		for id, pct := range current.Shares {
			values[id] = pct * current.Amount.Units() / 100
		}
		return values, nil
	}
	return nil, nil
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, groupID, expenseID string) error {
	if err := s.store.DeleteExpense(ctx, groupID, expenseID); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.logger.InfoContext(ctx, "Expense deleted", log.FieldGroupID, groupID, log.FieldExpenseID, expenseID)
	s.changed(ctx, groupID, ReasonExpenseDeleted)
	return nil
}

func (s *ExpenseService) changed(ctx context.Context, groupID, reason string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(groupID)
	}
	s.publish(ctx, groupID, reason)
}

// publish is best effort: the change is already stored.
func (s *ExpenseService) publish(ctx context.Context, groupID, reason string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher configured, skipping group change event", log.FieldGroupID, groupID)
		return
	}
	if err := s.publisher.PublishGroupChanged(ctx, groupID, reason); err != nil {
		s.slog.LogError(ctx, "Failed to publish group change event", err, log.OpPublish,
			log.NewFields().WithGroup(groupID))
	}
}
