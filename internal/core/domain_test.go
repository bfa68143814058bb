package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testGroup() Group {
	return Group{
		ID:      "g1",
		Name:    "Trip",
		AdminID: "alice",
		Members: []Member{
			{ID: "alice", Name: "Alice"},
			{ID: "bob", Name: "Bob"},
			{ID: "carol", Name: "Carol"},
		},
	}
}

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestSplitMethodValid(t *testing.T) {
	for _, m := range []SplitMethod{SplitEqual, SplitPercentage, SplitCustom, SplitPayment} {
		if !m.Valid() {
			t.Fatalf("%q expected valid", m)
		}
	}
	if SplitMethod("shares").Valid() {
		t.Fatalf("unexpected valid method")
	}
}

func TestGroupValidate(t *testing.T) {
	if err := testGroup().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		mod  func(g *Group)
		want error
	}{
		{"empty name", func(g *Group) { g.Name = "  " }, ErrEmptyGroupName},
		{"no members", func(g *Group) { g.Members = nil; g.AdminID = "" }, ErrNoMembers},
		{"member without name", func(g *Group) { g.Members[1].Name = "" }, ErrInvalidMember},
		{"duplicate member", func(g *Group) { g.Members[2].ID = "bob" }, ErrDuplicateMember},
		{"admin outside group", func(g *Group) { g.AdminID = "mallory" }, ErrAdminNotMember},
	}
	for _, tc := range cases {
		g := testGroup()
		tc.mod(&g)
		if err := g.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestGroupMemberHelpers(t *testing.T) {
	g := testGroup()
	if !g.HasMember("bob") || g.HasMember("dave") {
		t.Fatalf("HasMember mismatch")
	}
	ids := g.MemberIDs()
	if strings.Join(ids, ",") != "alice,bob,carol" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if g.MemberNames()["carol"] != "Carol" {
		t.Fatalf("unexpected names %v", g.MemberNames())
	}
}

func TestGroupExpenseValidate(t *testing.T) {
	g := testGroup()
	good := GroupExpense{
		GroupID:     g.ID,
		PaidBy:      "alice",
		Amount:      Money{Cents: 3000},
		Description: "Dinner",
		Method:      SplitEqual,
		Shares:      map[string]float64{"alice": 50, "bob": 50},
		Date:        NewDate(2025, 3, 1),
	}
	if err := good.Validate(g); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	accented := good
	accented.Description = strings.Repeat("è", 150)
	if err := accented.Validate(g); err != nil {
		t.Fatalf("150 accented characters should fit, got %v", err)
	}
	accented.Description = strings.Repeat("日", maxDescriptionLen)
	if err := accented.Validate(g); err != nil {
		t.Fatalf("%d CJK characters should fit, got %v", maxDescriptionLen, err)
	}

	cases := []struct {
		name string
		mod  func(e *GroupExpense)
		want error
	}{
		{"empty description", func(e *GroupExpense) { e.Description = " " }, ErrEmptyDescription},
		{"long description", func(e *GroupExpense) { e.Description = strings.Repeat("x", 201) }, ErrDescriptionTooLong},
		{"long multibyte description", func(e *GroupExpense) { e.Description = strings.Repeat("è", 201) }, ErrDescriptionTooLong},
		{"zero amount", func(e *GroupExpense) { e.Amount = Money{} }, ErrInvalidAmount},
		{"bad method", func(e *GroupExpense) { e.Method = "weights" }, ErrInvalidSplitMethod},
		{"payer outside group", func(e *GroupExpense) { e.PaidBy = "mallory" }, ErrNotMember},
		{"no shares", func(e *GroupExpense) { e.Shares = nil }, ErrInvalidShares},
		{"share outside group", func(e *GroupExpense) { e.Shares = map[string]float64{"mallory": 100} }, ErrNotMember},
		{"share above 100", func(e *GroupExpense) { e.Shares = map[string]float64{"bob": 120} }, ErrInvalidShares},
	}
	for _, tc := range cases {
		e := good
		tc.mod(&e)
		if err := e.Validate(g); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestGroupWithMember(t *testing.T) {
	g := testGroup()
	before := len(g.Members)

	grown, err := g.WithMember(Member{ID: "dave", Name: "Dave"})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if len(grown.Members) != before+1 || !grown.HasMember("dave") {
		t.Fatalf("member not added: %+v", grown.Members)
	}
	if len(g.Members) != before {
		t.Fatalf("original group was modified")
	}

	if _, err := g.WithMember(Member{ID: "alice", Name: "Alice again"}); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected duplicate member, got %v", err)
	}
	if _, err := g.WithMember(Member{ID: "eve"}); !errors.Is(err, ErrInvalidMember) {
		t.Fatalf("expected invalid member, got %v", err)
	}
}
