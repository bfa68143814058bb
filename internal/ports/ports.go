// Package ports declares the storage, messaging and export boundaries the
// services depend on.
package ports

import (
	"context"

	"settleup/internal/core"
)

//go:generate mockgen -destination=mocks/mock_ports.go -source=ports.go

type (
	// GroupStore persists groups together with their members.
	GroupStore interface {
		CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
		GetGroup(ctx context.Context, id string) (core.Group, error)
		ListGroups(ctx context.Context) ([]core.Group, error)
		// AddMember appends member to the group and returns the updated group.
		AddMember(ctx context.Context, groupID string, member core.Member) (core.Group, error)
		// DeleteGroup removes the group with its members and expenses.
		DeleteGroup(ctx context.Context, id string) error
	}

	// ExpenseStore persists group expenses with their normalized shares.
	ExpenseStore interface {
		AddExpense(ctx context.Context, e core.GroupExpense) (core.GroupExpense, error)
		GetExpense(ctx context.Context, groupID, expenseID string) (core.GroupExpense, error)
		// UpdateExpense replaces the stored expense with the same group and id.
		UpdateExpense(ctx context.Context, e core.GroupExpense) (core.GroupExpense, error)
		ListExpenses(ctx context.Context, groupID string) ([]core.GroupExpense, error)
		DeleteExpense(ctx context.Context, groupID, expenseID string) error
	}

	Store interface {
		GroupStore
		ExpenseStore
	}

	// EventPublisher announces that a group's ledger changed.
	EventPublisher interface {
		PublishGroupChanged(ctx context.Context, groupID, reason string) error
	}

	// SummaryExporter writes a rendered settlement summary to an external sink.
	SummaryExporter interface {
		ExportSummary(ctx context.Context, s core.SettlementSummary) error
	}
)
