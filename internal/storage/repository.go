package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"settleup/internal/core"
	"settleup/internal/log"

	_ "modernc.org/sqlite"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339Nano
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  log.New(log.Config{Handler: slog.Default().Handler(), Component: log.ComponentStorage}),
		now:     time.Now,
	}, nil
}

// SetLogger replaces the repository logger, tagging it as storage.
func (r *SQLiteRepository) SetLogger(logger *log.Logger) {
	if logger != nil {
		r.logger = logger.WithComponent(log.ComponentStorage)
	}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateGroup stores g and its members in one transaction.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.now().UTC()
	}

	err := r.inTx(ctx, func(q *Queries) error {
		if _, err := q.GetGroup(ctx, g.ID); err == nil {
			return fmt.Errorf("%w: %s", core.ErrDuplicateGroup, g.ID)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check group: %w", err)
		}
		if err := q.CreateGroup(ctx, Group{
			ID:        g.ID,
			Name:      g.Name,
			AdminID:   g.AdminID,
			CreatedAt: g.CreatedAt.Format(timestampLayout),
		}); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		for i, m := range g.Members {
			if err := q.CreateMember(ctx, Member{
				GroupID:  g.ID,
				ID:       m.ID,
				Name:     m.Name,
				Email:    m.Email,
				Position: int64(i),
			}); err != nil {
				return fmt.Errorf("insert member %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}

	r.logger.InfoContext(ctx, "Group saved to SQLite", log.FieldGroupID, g.ID, "members", len(g.Members))
	return g, nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	row, err := r.queries.GetGroup(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, core.ErrGroupNotFound
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %s: %w", id, err)
	}
	return r.loadGroup(ctx, row)
}

func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]core.Group, error) {
	rows, err := r.queries.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]core.Group, 0, len(rows))
	for _, row := range rows {
		g, err := r.loadGroup(ctx, row)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// AddMember appends member to the group after the existing members.
func (r *SQLiteRepository) AddMember(ctx context.Context, groupID string, member core.Member) (core.Group, error) {
	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return core.Group{}, err
	}
	g, err = g.WithMember(member)
	if err != nil {
		return core.Group{}, err
	}
	if err := r.queries.CreateMember(ctx, Member{
		GroupID:  groupID,
		ID:       member.ID,
		Name:     member.Name,
		Email:    member.Email,
		Position: int64(len(g.Members) - 1),
	}); err != nil {
		return core.Group{}, fmt.Errorf("insert member %s: %w", member.ID, err)
	}
	r.logger.InfoContext(ctx, "Member added in SQLite", log.FieldGroupID, groupID, "member_id", member.ID)
	return g, nil
}

// DeleteGroup removes the group; members, expenses and shares cascade.
func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	n, err := r.queries.DeleteGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrGroupNotFound
	}
	r.logger.InfoContext(ctx, "Group deleted from SQLite", log.FieldGroupID, id)
	return nil
}

func (r *SQLiteRepository) loadGroup(ctx context.Context, row Group) (core.Group, error) {
	members, err := r.queries.ListMembers(ctx, row.ID)
	if err != nil {
		return core.Group{}, fmt.Errorf("list members of %s: %w", row.ID, err)
	}
	createdAt, err := time.Parse(timestampLayout, row.CreatedAt)
	if err != nil {
		return core.Group{}, fmt.Errorf("parse group created_at: %w", err)
	}
	g := core.Group{
		ID:        row.ID,
		Name:      row.Name,
		AdminID:   row.AdminID,
		CreatedAt: createdAt,
		Members:   make([]core.Member, len(members)),
	}
	for i, m := range members {
		g.Members[i] = core.Member{ID: m.ID, Name: m.Name, Email: m.Email}
	}
	return g, nil
}

// AddExpense validates e against its group and stores it with its shares.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.GroupExpense) (core.GroupExpense, error) {
	g, err := r.GetGroup(ctx, e.GroupID)
	if err != nil {
		return core.GroupExpense{}, err
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	paidFor, err := json.Marshal(nonNil(e.PaidFor))
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("encode paid_for: %w", err)
	}

	err = r.inTx(ctx, func(q *Queries) error {
		if err := q.CreateExpense(ctx, GroupExpense{
			ID:          e.ID,
			GroupID:     e.GroupID,
			PaidBy:      e.PaidBy,
			AmountCents: e.Amount.Cents,
			Description: e.Description,
			Method:      string(e.Method),
			PaidFor:     string(paidFor),
			ExpenseDate: e.Date.Format(dateLayout),
			CreatedAt:   e.CreatedAt.Format(timestampLayout),
		}); err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		return createShares(ctx, q, e)
	})
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("add expense: %w", err)
	}

	r.logger.InfoContext(ctx, "Expense saved to SQLite",
		log.FieldExpenseID, e.ID,
		log.FieldGroupID, e.GroupID,
		log.FieldAmountCents, e.Amount.Cents,
		log.FieldSplitMethod, e.Method)
	return e, nil
}

// ListExpenses returns the group's expenses ordered by date, then creation time.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, groupID string) ([]core.GroupExpense, error) {
	if _, err := r.queries.GetGroup(ctx, groupID); errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrGroupNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}

	rows, err := r.queries.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	shares, err := r.queries.ListGroupShares(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	byExpense := make(map[string]map[string]float64, len(rows))
	for _, s := range shares {
		m, ok := byExpense[s.ExpenseID]
		if !ok {
			m = make(map[string]float64)
			byExpense[s.ExpenseID] = m
		}
		m[s.MemberID] = s.Percentage
	}

	expenses := make([]core.GroupExpense, 0, len(rows))
	for _, row := range rows {
		e, err := toCoreExpense(row, byExpense[row.ID])
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, groupID, expenseID string) (core.GroupExpense, error) {
	if _, err := r.queries.GetGroup(ctx, groupID); errors.Is(err, sql.ErrNoRows) {
		return core.GroupExpense{}, core.ErrGroupNotFound
	} else if err != nil {
		return core.GroupExpense{}, fmt.Errorf("get group %s: %w", groupID, err)
	}
	row, err := r.queries.GetExpense(ctx, groupID, expenseID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GroupExpense{}, core.ErrExpenseNotFound
	}
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("get expense %s: %w", expenseID, err)
	}
	rows, err := r.queries.ListExpenseShares(ctx, expenseID)
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("list shares: %w", err)
	}
	shares := make(map[string]float64, len(rows))
	for _, s := range rows {
		shares[s.MemberID] = s.Percentage
	}
	return toCoreExpense(row, shares)
}

// UpdateExpense rewrites the expense row and replaces its shares. The
// creation time is kept.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.GroupExpense) (core.GroupExpense, error) {
	current, err := r.GetExpense(ctx, e.GroupID, e.ID)
	if err != nil {
		return core.GroupExpense{}, err
	}
	g, err := r.GetGroup(ctx, e.GroupID)
	if err != nil {
		return core.GroupExpense{}, err
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}
	e.CreatedAt = current.CreatedAt
	paidFor, err := json.Marshal(nonNil(e.PaidFor))
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("encode paid_for: %w", err)
	}

	err = r.inTx(ctx, func(q *Queries) error {
		n, err := q.UpdateExpense(ctx, GroupExpense{
			ID:          e.ID,
			GroupID:     e.GroupID,
			PaidBy:      e.PaidBy,
			AmountCents: e.Amount.Cents,
			Description: e.Description,
			Method:      string(e.Method),
			PaidFor:     string(paidFor),
			ExpenseDate: e.Date.Format(dateLayout),
		})
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		if n == 0 {
			return core.ErrExpenseNotFound
		}
		if err := q.DeleteShares(ctx, e.ID); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		return createShares(ctx, q, e)
	})
	if err != nil {
		return core.GroupExpense{}, err
	}

	r.logger.InfoContext(ctx, "Expense updated in SQLite",
		log.FieldExpenseID, e.ID,
		log.FieldGroupID, e.GroupID,
		log.FieldAmountCents, e.Amount.Cents,
		log.FieldSplitMethod, e.Method)
	return e, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, groupID, expenseID string) error {
	var affected int64
	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteShares(ctx, expenseID); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		n, err := q.DeleteExpense(ctx, groupID, expenseID)
		if err != nil {
			return fmt.Errorf("delete expense: %w", err)
		}
		affected = n
		if n == 0 {
			return core.ErrExpenseNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Expense deleted from SQLite", log.FieldExpenseID, expenseID, log.FieldGroupID, groupID, "rows", affected)
	return nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toCoreExpense(row GroupExpense, shares map[string]float64) (core.GroupExpense, error) {
	date, err := time.Parse(dateLayout, row.ExpenseDate)
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("parse expense_date of %s: %w", row.ID, err)
	}
	createdAt, err := time.Parse(timestampLayout, row.CreatedAt)
	if err != nil {
		return core.GroupExpense{}, fmt.Errorf("parse created_at of %s: %w", row.ID, err)
	}
	var paidFor []string
	if err := json.Unmarshal([]byte(row.PaidFor), &paidFor); err != nil {
		return core.GroupExpense{}, fmt.Errorf("decode paid_for of %s: %w", row.ID, err)
	}
	if shares == nil {
		shares = map[string]float64{}
	}
	return core.GroupExpense{
		ID:          row.ID,
		GroupID:     row.GroupID,
		PaidBy:      row.PaidBy,
		Amount:      core.Money{Cents: row.AmountCents},
		Description: row.Description,
		PaidFor:     paidFor,
		Method:      core.SplitMethod(row.Method),
		Shares:      shares,
		Date:        core.Date{Time: date},
		CreatedAt:   createdAt,
	}, nil
}

func createShares(ctx context.Context, q *Queries, e core.GroupExpense) error {
	for id, pct := range e.Shares {
		if err := q.CreateShare(ctx, ExpenseShare{ExpenseID: e.ID, MemberID: id, Percentage: pct}); err != nil {
			return fmt.Errorf("insert share %s: %w", id, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
