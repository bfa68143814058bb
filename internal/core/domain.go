package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	SplitEqual      SplitMethod = "equal"
	SplitPercentage SplitMethod = "percentage"
	SplitCustom     SplitMethod = "custom"
	SplitPayment    SplitMethod = "payment"
)

const maxDescriptionLen = 200

type (
	SplitMethod string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Member struct {
		ID    string
		Name  string
		Email string
	}

	Group struct {
		ID        string
		Name      string
		AdminID   string
		Members   []Member
		CreatedAt time.Time
	}

	GroupExpense struct {
		ID          string
		GroupID     string
		PaidBy      string // member ID of the payer
		Amount      Money
		Description string
		PaidFor     []string // beneficiaries as entered by the user
		Method      SplitMethod
		Shares      map[string]float64 // member ID -> percentage of Amount
		Date        Date
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrEmptyGroupName     = errors.New("empty group name")
	ErrNoMembers          = errors.New("group has no members")
	ErrDuplicateMember    = errors.New("duplicate member")
	ErrInvalidMember      = errors.New("invalid member")
	ErrAdminNotMember     = errors.New("admin is not a group member")
	ErrNotMember          = errors.New("not a group member")
	ErrInvalidSplitMethod = errors.New("invalid split method")
	ErrInvalidShares      = errors.New("invalid shares")
	ErrPayerIsPayee       = errors.New("payer cannot be the same as payee in 'payment' split method")
	ErrGroupNotFound      = errors.New("group not found")
	ErrDuplicateGroup     = errors.New("group already exists")
	ErrExpenseNotFound    = errors.New("expense not found")
)

// Valid reports whether m is one of the supported split methods.
func (m SplitMethod) Valid() bool {
	switch m {
	case SplitEqual, SplitPercentage, SplitCustom, SplitPayment:
		return true
	default:
		return false
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the group name, member list and admin membership.
func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyGroupName
	}
	if len(g.Members) == 0 {
		return ErrNoMembers
	}
	seen := make(map[string]struct{}, len(g.Members))
	for _, m := range g.Members {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	if g.AdminID != "" && !g.HasMember(g.AdminID) {
		return ErrAdminNotMember
	}
	return nil
}

// Validate checks that the member has an id and a display name.
func (m Member) Validate() error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidMember)
	}
	return nil
}

// WithMember returns a copy of g with m appended. Adding an existing member
// id fails with ErrDuplicateMember.
func (g Group) WithMember(m Member) (Group, error) {
	if err := m.Validate(); err != nil {
		return Group{}, err
	}
	if g.HasMember(m.ID) {
		return Group{}, fmt.Errorf("%w: %s", ErrDuplicateMember, m.ID)
	}
	members := make([]Member, len(g.Members), len(g.Members)+1)
	copy(members, g.Members)
	g.Members = append(members, m)
	return g, nil
}

// HasMember reports whether id belongs to one of the group's members.
func (g Group) HasMember(id string) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// MemberIDs returns member ids in group order.
func (g Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// MemberNames maps member ids to display names.
func (g Group) MemberNames() map[string]string {
	names := make(map[string]string, len(g.Members))
	for _, m := range g.Members {
		names[m.ID] = m.Name
	}
	return names
}

// Validate checks an expense against the group it is booked in.
// Shares must already be normalized (see BuildShares).
func (e GroupExpense) Validate(g Group) error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(e.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSplitMethod, e.Method)
	}
	if !g.HasMember(e.PaidBy) {
		return fmt.Errorf("payer %s: %w", e.PaidBy, ErrNotMember)
	}
	if len(e.Shares) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidShares)
	}
	for id, pct := range e.Shares {
		if !g.HasMember(id) {
			return fmt.Errorf("participant %s: %w", id, ErrNotMember)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: %s has %.4f%%", ErrInvalidShares, id, pct)
		}
	}
	return nil
}
