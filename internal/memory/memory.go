// Package memory is an in-process Store used for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"settleup/internal/core"
)

// SeedGroupID is the id of the group created from seed_members.txt.
const SeedGroupID = "default"

type Store struct {
	mu       sync.RWMutex
	groups   map[string]core.Group
	order    []string
	expenses map[string][]core.GroupExpense
	now      func() time.Time
}

func New() *Store {
	return &Store{
		groups:   make(map[string]core.Group),
		expenses: make(map[string][]core.GroupExpense),
		now:      time.Now,
	}
}

// NewFromFiles creates a store and, when base/seed_members.txt exists, seeds
// a group with one member per line ("id Display Name").
func NewFromFiles(base string) (*Store, error) {
	s := New()
	lines := readLines(filepath.Join(base, "seed_members.txt"))
	if len(lines) == 0 {
		return s, nil
	}
	g := core.Group{ID: SeedGroupID, Name: "Default"}
	for _, line := range lines {
		id, name, _ := strings.Cut(line, " ")
		name = strings.TrimSpace(name)
		if name == "" {
			name = id
		}
		g.Members = append(g.Members, core.Member{ID: id, Name: name})
	}
	g.AdminID = g.Members[0].ID
	if _, err := s.CreateGroup(context.Background(), g); err != nil {
		return nil, fmt.Errorf("seed group: %w", err)
	}
	return s, nil
}

// CreateGroup stores g, assigning an id when it has none.
func (s *Store) CreateGroup(_ context.Context, g core.Group) (core.Group, error) {
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if _, exists := s.groups[g.ID]; exists {
		return core.Group{}, fmt.Errorf("%w: %s", core.ErrDuplicateGroup, g.ID)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now().UTC()
	}
	g = cloneGroup(g)
	s.groups[g.ID] = g
	s.order = append(s.order, g.ID)
	return cloneGroup(g), nil
}

func (s *Store) GetGroup(_ context.Context, id string) (core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, core.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

// ListGroups returns groups in creation order.
func (s *Store) ListGroups(_ context.Context) ([]core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Group, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneGroup(s.groups[id]))
	}
	return out, nil
}

// AddMember appends member to the group.
func (s *Store) AddMember(_ context.Context, groupID string, member core.Member) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return core.Group{}, core.ErrGroupNotFound
	}
	g, err := g.WithMember(member)
	if err != nil {
		return core.Group{}, err
	}
	s.groups[groupID] = g
	return cloneGroup(g), nil
}

// DeleteGroup removes the group and every expense booked in it.
func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return core.ErrGroupNotFound
	}
	delete(s.groups, id)
	delete(s.expenses, id)
	for i, gid := range s.order {
		if gid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddExpense stores e after checking it against its group.
func (s *Store) AddExpense(_ context.Context, e core.GroupExpense) (core.GroupExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[e.GroupID]
	if !ok {
		return core.GroupExpense{}, core.ErrGroupNotFound
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e = cloneExpense(e)
	s.expenses[e.GroupID] = append(s.expenses[e.GroupID], e)
	return cloneExpense(e), nil
}

// ListExpenses returns a group's expenses ordered by date, then insertion.
func (s *Store) ListExpenses(_ context.Context, groupID string) ([]core.GroupExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, core.ErrGroupNotFound
	}
	items := s.expenses[groupID]
	out := make([]core.GroupExpense, len(items))
	for i, e := range items {
		out[i] = cloneExpense(e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, groupID, expenseID string) (core.GroupExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return core.GroupExpense{}, core.ErrGroupNotFound
	}
	for _, e := range s.expenses[groupID] {
		if e.ID == expenseID {
			return cloneExpense(e), nil
		}
	}
	return core.GroupExpense{}, core.ErrExpenseNotFound
}

// UpdateExpense replaces the stored expense, keeping its creation time.
func (s *Store) UpdateExpense(_ context.Context, e core.GroupExpense) (core.GroupExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[e.GroupID]
	if !ok {
		return core.GroupExpense{}, core.ErrGroupNotFound
	}
	if err := e.Validate(g); err != nil {
		return core.GroupExpense{}, err
	}
	items := s.expenses[e.GroupID]
	for i, old := range items {
		if old.ID == e.ID {
			e.CreatedAt = old.CreatedAt
			items[i] = cloneExpense(e)
			return cloneExpense(e), nil
		}
	}
	return core.GroupExpense{}, core.ErrExpenseNotFound
}

func (s *Store) DeleteExpense(_ context.Context, groupID, expenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return core.ErrGroupNotFound
	}
	items := s.expenses[groupID]
	for i, e := range items {
		if e.ID == expenseID {
			s.expenses[groupID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return core.ErrExpenseNotFound
}

func cloneGroup(g core.Group) core.Group {
	g.Members = append([]core.Member(nil), g.Members...)
	return g
}

func cloneExpense(e core.GroupExpense) core.GroupExpense {
	e.PaidFor = append([]string(nil), e.PaidFor...)
	shares := make(map[string]float64, len(e.Shares))
	for k, v := range e.Shares {
		shares[k] = v
	}
	e.Shares = shares
	return e
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
