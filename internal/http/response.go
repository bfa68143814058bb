package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/settlement"
)

type memberResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type groupResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	AdminID   string           `json:"admin_id,omitempty"`
	Members   []memberResponse `json:"members"`
	CreatedAt time.Time        `json:"created_at"`
}

func newGroupResponse(g core.Group) groupResponse {
	members := make([]memberResponse, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, memberResponse(m))
	}
	return groupResponse{ID: g.ID, Name: g.Name, AdminID: g.AdminID, Members: members, CreatedAt: g.CreatedAt}
}

type expenseResponse struct {
	ID          string             `json:"id"`
	GroupID     string             `json:"group_id"`
	PaidBy      string             `json:"paid_by"`
	Amount      string             `json:"amount"`
	AmountCents int64              `json:"amount_cents"`
	Description string             `json:"description"`
	Date        string             `json:"date"`
	SplitMethod core.SplitMethod   `json:"split_method"`
	PaidFor     []string           `json:"paid_for"`
	Shares      map[string]float64 `json:"shares"`
	CreatedAt   time.Time          `json:"created_at"`
}

func newExpenseResponse(e core.GroupExpense) expenseResponse {
	paidFor := e.PaidFor
	if paidFor == nil {
		paidFor = []string{}
	}
	return expenseResponse{
		ID:          e.ID,
		GroupID:     e.GroupID,
		PaidBy:      e.PaidBy,
		Amount:      core.FormatUnits(e.Amount.Cents),
		AmountCents: e.Amount.Cents,
		Description: e.Description,
		Date:        e.Date.Format("2006-01-02"),
		SplitMethod: e.Method,
		PaidFor:     paidFor,
		Shares:      e.Shares,
		CreatedAt:   e.CreatedAt,
	}
}

type settlementResponse struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	FromID string  `json:"from_id"`
	ToID   string  `json:"to_id"`
}

type summaryResponse struct {
	Success     bool                 `json:"success"`
	GroupID     string               `json:"group_id"`
	GroupName   string               `json:"group_name"`
	GeneratedAt time.Time            `json:"generated_at"`
	Settlements []settlementResponse `json:"settlements"`
}

func newSummaryResponse(s core.SettlementSummary) summaryResponse {
	lines := make([]settlementResponse, 0, len(s.Settlements))
	for _, l := range s.Settlements {
		lines = append(lines, settlementResponse{From: l.From, To: l.To, Amount: l.Amount, FromID: l.FromID, ToID: l.ToID})
	}
	return summaryResponse{
		Success:     true,
		GroupID:     s.GroupID,
		GroupName:   s.GroupName,
		GeneratedAt: s.GeneratedAt,
		Settlements: lines,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": status < 400, "message": message})
}

var unprocessable = []error{
	core.ErrInvalidAmount,
	core.ErrEmptyDescription,
	core.ErrDescriptionTooLong,
	core.ErrEmptyGroupName,
	core.ErrNoMembers,
	core.ErrDuplicateMember,
	core.ErrInvalidMember,
	core.ErrAdminNotMember,
	core.ErrNotMember,
	core.ErrInvalidSplitMethod,
	core.ErrInvalidShares,
	core.ErrPayerIsPayee,
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrGroupNotFound), errors.Is(err, core.ErrExpenseNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateGroup):
		return http.StatusConflict
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	var inputErr *settlement.InputError
	if errors.As(err, &inputErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError responds with the mapped status. Server errors are logged and
// their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Request failed", err, op, nil)
		writeMessage(w, status, "Internal server error")
		return
	}
	writeMessage(w, status, err.Error())
}
