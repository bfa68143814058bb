package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Group struct {
	ID        string
	Name      string
	AdminID   string
	CreatedAt string
}

type Member struct {
	GroupID  string
	ID       string
	Name     string
	Email    string
	Position int64
}

type GroupExpense struct {
	ID          string
	GroupID     string
	PaidBy      string
	AmountCents int64
	Description string
	Method      string
	PaidFor     string
	ExpenseDate string
	CreatedAt   string
}

type ExpenseShare struct {
	ExpenseID  string
	MemberID   string
	Percentage float64
}

const createGroup = `INSERT INTO groups (id, name, admin_id, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateGroup(ctx context.Context, g Group) error {
	_, err := q.db.ExecContext(ctx, createGroup, g.ID, g.Name, g.AdminID, g.CreatedAt)
	return err
}

const createMember = `INSERT INTO members (group_id, id, name, email, position) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateMember(ctx context.Context, m Member) error {
	_, err := q.db.ExecContext(ctx, createMember, m.GroupID, m.ID, m.Name, m.Email, m.Position)
	return err
}

const getGroup = `SELECT id, name, admin_id, created_at FROM groups WHERE id = ?`

func (q *Queries) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := q.db.QueryRowContext(ctx, getGroup, id).Scan(&g.ID, &g.Name, &g.AdminID, &g.CreatedAt)
	return g, err
}

const listGroups = `SELECT id, name, admin_id, created_at FROM groups ORDER BY created_at, id`

func (q *Queries) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := q.db.QueryContext(ctx, listGroups)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.AdminID, &g.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

const listMembers = `SELECT group_id, id, name, email, position FROM members WHERE group_id = ? ORDER BY position`

func (q *Queries) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := q.db.QueryContext(ctx, listMembers, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.ID, &m.Name, &m.Email, &m.Position); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const createExpense = `INSERT INTO group_expenses
    (id, group_id, paid_by, amount_cents, description, method, paid_for, expense_date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, e GroupExpense) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		e.ID, e.GroupID, e.PaidBy, e.AmountCents, e.Description, e.Method, e.PaidFor, e.ExpenseDate, e.CreatedAt)
	return err
}

const createShare = `INSERT INTO expense_shares (expense_id, member_id, percentage) VALUES (?, ?, ?)`

func (q *Queries) CreateShare(ctx context.Context, s ExpenseShare) error {
	_, err := q.db.ExecContext(ctx, createShare, s.ExpenseID, s.MemberID, s.Percentage)
	return err
}

const listExpenses = `SELECT id, group_id, paid_by, amount_cents, description, method, paid_for, expense_date, created_at
FROM group_expenses WHERE group_id = ? ORDER BY expense_date, created_at, id`

func (q *Queries) ListExpenses(ctx context.Context, groupID string) ([]GroupExpense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GroupExpense
	for rows.Next() {
		var e GroupExpense
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PaidBy, &e.AmountCents, &e.Description,
			&e.Method, &e.PaidFor, &e.ExpenseDate, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const listGroupShares = `SELECT s.expense_id, s.member_id, s.percentage
FROM expense_shares s JOIN group_expenses e ON e.id = s.expense_id
WHERE e.group_id = ?`

func (q *Queries) ListGroupShares(ctx context.Context, groupID string) ([]ExpenseShare, error) {
	rows, err := q.db.QueryContext(ctx, listGroupShares, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseShare
	for rows.Next() {
		var s ExpenseShare
		if err := rows.Scan(&s.ExpenseID, &s.MemberID, &s.Percentage); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const deleteShares = `DELETE FROM expense_shares WHERE expense_id = ?`

func (q *Queries) DeleteShares(ctx context.Context, expenseID string) error {
	_, err := q.db.ExecContext(ctx, deleteShares, expenseID)
	return err
}

const deleteExpense = `DELETE FROM group_expenses WHERE group_id = ? AND id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, groupID, expenseID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, groupID, expenseID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteGroup = `DELETE FROM groups WHERE id = ?`

func (q *Queries) DeleteGroup(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteGroup, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getExpense = `SELECT id, group_id, paid_by, amount_cents, description, method, paid_for, expense_date, created_at
FROM group_expenses WHERE group_id = ? AND id = ?`

func (q *Queries) GetExpense(ctx context.Context, groupID, expenseID string) (GroupExpense, error) {
	var e GroupExpense
	err := q.db.QueryRowContext(ctx, getExpense, groupID, expenseID).Scan(&e.ID, &e.GroupID, &e.PaidBy,
		&e.AmountCents, &e.Description, &e.Method, &e.PaidFor, &e.ExpenseDate, &e.CreatedAt)
	return e, err
}

const listExpenseShares = `SELECT expense_id, member_id, percentage FROM expense_shares WHERE expense_id = ?`

func (q *Queries) ListExpenseShares(ctx context.Context, expenseID string) ([]ExpenseShare, error) {
	rows, err := q.db.QueryContext(ctx, listExpenseShares, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseShare
	for rows.Next() {
		var s ExpenseShare
		if err := rows.Scan(&s.ExpenseID, &s.MemberID, &s.Percentage); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const updateExpense = `UPDATE group_expenses
SET paid_by = ?, amount_cents = ?, description = ?, method = ?, paid_for = ?, expense_date = ?
WHERE group_id = ? AND id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, e GroupExpense) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense,
		e.PaidBy, e.AmountCents, e.Description, e.Method, e.PaidFor, e.ExpenseDate, e.GroupID, e.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
