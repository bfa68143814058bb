package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"settleup/internal/core"
	"settleup/internal/services"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type memberRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (m memberRequest) toMember() core.Member {
	return core.Member{
		ID:    strings.TrimSpace(m.ID),
		Name:  sanitizeInput(m.Name),
		Email: strings.TrimSpace(m.Email),
	}
}

type joinGroupRequest struct {
	GroupID string        `json:"group_id"`
	Member  memberRequest `json:"member"`
}

type createGroupRequest struct {
	Name    string          `json:"name"`
	AdminID string          `json:"admin_id"`
	Members []memberRequest `json:"members"`
}

func (req createGroupRequest) toGroup() core.Group {
	g := core.Group{
		Name:    sanitizeInput(req.Name),
		AdminID: strings.TrimSpace(req.AdminID),
		Members: make([]core.Member, 0, len(req.Members)),
	}
	for _, m := range req.Members {
		g.Members = append(g.Members, m.toMember())
	}
	return g
}

// amountField accepts an amount as a JSON number or string ("12.34", "12,34").
type amountField struct {
	raw string
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a number or string")
	}
	a.raw = n.String()
	return nil
}

type addExpenseRequest struct {
	PaidBy      string             `json:"paid_by"`
	Amount      amountField        `json:"amount"`
	Description string             `json:"description"`
	Date        string             `json:"date,omitempty"`
	SplitMethod string             `json:"split_method"`
	PaidFor     []string           `json:"paid_for,omitempty"`
	Shares      map[string]float64 `json:"shares,omitempty"`
}

func (req addExpenseRequest) toInput(groupID string) (services.ExpenseInput, error) {
	cents, err := core.ParseDecimalToCents(req.Amount.raw)
	if err != nil {
		return services.ExpenseInput{}, err
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return services.ExpenseInput{}, err
	}

	method := parseMethod(req.SplitMethod)
	if method == "" {
		method = core.SplitEqual
	}

	return services.ExpenseInput{
		GroupID:     groupID,
		PaidBy:      strings.TrimSpace(req.PaidBy),
		Amount:      core.Money{Cents: cents},
		Description: sanitizeInput(req.Description),
		Date:        date,
		Method:      method,
		PaidFor:     trimIDs(req.PaidFor),
		Values:      req.Shares,
	}, nil
}

// updateExpenseRequest is a partial edit; omitted fields keep their value.
type updateExpenseRequest struct {
	PaidBy      *string            `json:"paid_by,omitempty"`
	Amount      *amountField       `json:"amount,omitempty"`
	Description *string            `json:"description,omitempty"`
	Date        *string            `json:"date,omitempty"`
	SplitMethod *string            `json:"split_method,omitempty"`
	PaidFor     []string           `json:"paid_for,omitempty"`
	Shares      map[string]float64 `json:"shares,omitempty"`
}

func (req updateExpenseRequest) toUpdate() (services.ExpenseUpdate, error) {
	var upd services.ExpenseUpdate
	if req.PaidBy != nil {
		v := strings.TrimSpace(*req.PaidBy)
		upd.PaidBy = &v
	}
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(req.Amount.raw)
		if err != nil {
			return services.ExpenseUpdate{}, err
		}
		upd.Amount = &core.Money{Cents: cents}
	}
	if req.Description != nil {
		v := sanitizeInput(*req.Description)
		upd.Description = &v
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return services.ExpenseUpdate{}, err
		}
		upd.Date = &d
	}
	if req.SplitMethod != nil {
		m := parseMethod(*req.SplitMethod)
		upd.Method = &m
	}
	if req.PaidFor != nil {
		upd.PaidFor = trimIDs(req.PaidFor)
	}
	upd.Values = req.Shares
	return upd, nil
}

func parseDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Date{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, fmt.Errorf("%w: date must be YYYY-MM-DD", errBadRequest)
	}
	return core.Date{Time: t}, nil
}

func parseMethod(s string) core.SplitMethod {
	return core.SplitMethod(strings.ToLower(strings.TrimSpace(s)))
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strings.TrimSpace(id))
	}
	return out
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON object", errBadRequest)
	}
	return nil
}

// sanitizeInput drops control characters other than tab and newlines and trims.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}
