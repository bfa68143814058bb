package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settleup/internal/core"
	"settleup/internal/memory"
	"settleup/internal/services"
	"settleup/internal/settlement"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store := memory.New()
	summaries := services.NewSettlementService(store, store, nil, nil, nil)
	groups := services.NewExpenseService(store, nil, summaries, nil)
	s := NewServer(cfg, groups, summaries, nil)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "203.0.113.10:4000"
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func createTrip(t *testing.T, s *Server) string {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/api/groups", `{
		"name": "Trip",
		"admin_id": "a",
		"members": [{"id":"a","name":"Alice"},{"id":"b","name":"Bob"},{"id":"c","name":"Carol"}]
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	resp := decode[struct {
		Success bool          `json:"success"`
		Group   groupResponse `json:"group"`
	}](t, rr)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Group.ID)
	return resp.Group.ID
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, Config{ReadyChecks: map[string]ReadinessCheck{
		"store": func(context.Context) error { return nil },
	}})
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	rr := do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	ready := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, rr)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["store"])

	failing := newTestServer(t, Config{ReadyChecks: map[string]ReadinessCheck{
		"store": func(context.Context) error { return errors.New("database is locked") },
	}})
	rr = do(t, failing, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database is locked")
}

func TestGroupExpenseAndSummaryFlow(t *testing.T) {
	s := newTestServer(t, Config{})
	id := createTrip(t, s)

	rr := do(t, s, http.MethodGet, "/api/groups/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"Carol"`)

	rr = do(t, s, http.MethodPost, "/api/groups/"+id+"/expenses", `{
		"paid_by": "a", "amount": "90,00", "description": "Groceries",
		"date": "2025-01-15", "split_method": "equal"
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[struct {
		Expense expenseResponse `json:"expense"`
	}](t, rr)
	assert.Equal(t, "90.00", created.Expense.Amount)
	assert.Equal(t, int64(9000), created.Expense.AmountCents)
	assert.Equal(t, "2025-01-15", created.Expense.Date)
	assert.Len(t, created.Expense.Shares, 3)

	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[summaryResponse](t, rr)
	assert.True(t, summary.Success)
	require.Len(t, summary.Settlements, 2)
	assert.Equal(t, "Bob", summary.Settlements[0].From)
	assert.Equal(t, "Carol", summary.Settlements[1].From)
	for _, l := range summary.Settlements {
		assert.Equal(t, "Alice", l.To)
		assert.InDelta(t, 30.0, l.Amount, 1e-6)
	}

	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/expenses", "")
	list := decode[struct {
		Expenses []expenseResponse `json:"expenses"`
	}](t, rr)
	require.Len(t, list.Expenses, 1)

	rr = do(t, s, http.MethodDelete, "/api/groups/"+id+"/expenses/"+list.Expenses[0].ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[envelope](t, rr).Success)

	// deleting invalidates the cached plan
	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "")
	summary = decode[summaryResponse](t, rr)
	assert.Empty(t, summary.Settlements)
	assert.Contains(t, rr.Body.String(), `"settlements":[]`)

	rr = do(t, s, http.MethodGet, "/api/groups", "")
	groups := decode[struct {
		Groups []groupResponse `json:"groups"`
	}](t, rr)
	assert.Len(t, groups.Groups, 1)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	id := createTrip(t, s)
	expenses := "/api/groups/" + id + "/expenses"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/api/groups", `{"name":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/groups", `{"name":"x","colour":"red"}`, http.StatusBadRequest},
		{"trailing data", http.MethodPost, "/api/groups", `{"name":"x"}{}`, http.StatusBadRequest},
		{"no members", http.MethodPost, "/api/groups", `{"name":"Flat","members":[]}`, http.StatusUnprocessableEntity},
		{"admin not member", http.MethodPost, "/api/groups", `{"name":"Flat","admin_id":"z","members":[{"id":"a","name":"A"}]}`, http.StatusUnprocessableEntity},
		{"bad amount", http.MethodPost, expenses, `{"paid_by":"a","amount":"-5","description":"x"}`, http.StatusUnprocessableEntity},
		{"amount as number", http.MethodPost, expenses, `{"paid_by":"a","amount":12.5,"description":"Taxi"}`, http.StatusCreated},
		{"amount wrong type", http.MethodPost, expenses, `{"paid_by":"a","amount":true,"description":"x"}`, http.StatusBadRequest},
		{"bad date", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"x","date":"15/01/2025"}`, http.StatusBadRequest},
		{"payer not member", http.MethodPost, expenses, `{"paid_by":"zed","amount":"5","description":"x"}`, http.StatusUnprocessableEntity},
		{"percentages off", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"x","split_method":"percentage","shares":{"a":50,"b":40}}`, http.StatusUnprocessableEntity},
		{"unknown method", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"x","split_method":"lottery"}`, http.StatusUnprocessableEntity},
		{"missing description", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"  "}`, http.StatusUnprocessableEntity},
		{"accented description", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"` + strings.Repeat("è", 150) + `"}`, http.StatusCreated},
		{"description too long", http.MethodPost, expenses, `{"paid_by":"a","amount":"5","description":"` + strings.Repeat("è", 201) + `"}`, http.StatusUnprocessableEntity},
		{"edit unknown expense", http.MethodPut, expenses + "/nope", `{"description":"x"}`, http.StatusNotFound},
		{"edit unknown field", http.MethodPut, expenses + "/nope", `{"colour":"red"}`, http.StatusBadRequest},
		{"join without member", http.MethodPost, "/api/groups/join", `{"group_id":"` + id + `"}`, http.StatusUnprocessableEntity},
		{"unknown group", http.MethodGet, "/api/groups/nope", "", http.StatusNotFound},
		{"unknown group summary", http.MethodGet, "/api/groups/nope/settlement_summary", "", http.StatusNotFound},
		{"unknown expense", http.MethodDelete, expenses + "/nope", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/groups", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			env := decode[envelope](t, rr)
			assert.Equal(t, tt.status < 400, env.Success)
			if tt.status >= 400 {
				assert.NotEmpty(t, env.Message)
			}
		})
	}
}

type failingSummaries struct{ err error }

func (f failingSummaries) Summary(context.Context, string) (core.SettlementSummary, error) {
	return core.SettlementSummary{}, f.err
}

func TestSummaryErrorMapping(t *testing.T) {
	store := memory.New()
	groups := services.NewExpenseService(store, nil, nil, nil)

	tests := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("settle group g1: %w", &settlement.InputError{Index: 2, Err: settlement.ErrInvalidShare}), http.StatusUnprocessableEntity, "invalid share"},
		{fmt.Errorf("load group g1: %w", core.ErrGroupNotFound), http.StatusNotFound, "group not found"},
		{errors.New("disk I/O error"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		s := NewServer(Config{}, groups, failingSummaries{err: tt.err}, nil)
		rr := do(t, s, http.MethodGet, "/api/groups/g1/settlement_summary", "")
		assert.Equal(t, tt.status, rr.Code)
		env := decode[envelope](t, rr)
		assert.False(t, env.Success)
		assert.Contains(t, env.Message, tt.message)
		assert.NotContains(t, env.Message, "disk")
		_ = s.Shutdown(context.Background())
	}
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	s := newTestServer(t, Config{RateLimitPerMinute: 2})
	body := `{"name":"Flat","members":[{"id":"a","name":"A"}]}`

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", body).Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/groups", body).Code)
	rr := do(t, s, http.MethodPost, "/api/groups", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.False(t, decode[envelope](t, rr).Success)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/groups", "").Code)
}

func TestMiddlewareHeadersAndCORS(t *testing.T) {
	s := newTestServer(t, Config{CORSAllowedOrigins: []string{"https://app.example"}})

	rr := do(t, s, http.MethodGet, "/api/groups", "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_"))
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodOptions, "/api/groups", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	s.Handler.ServeHTTP(pre, req)
	assert.Less(t, pre.Code, 300)
	assert.Equal(t, "https://app.example", pre.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: x", errBadRequest)))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrExpenseNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("payer x: %w", core.ErrNotMember)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(core.ErrPayerIsPayee))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("%w: g1", core.ErrDuplicateGroup)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(core.ErrDuplicateMember))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}

func TestEditExpenseUpdatesSummary(t *testing.T) {
	s := newTestServer(t, Config{})
	id := createTrip(t, s)

	rr := do(t, s, http.MethodPost, "/api/groups/"+id+"/expenses", `{
		"paid_by": "a", "amount": "90", "description": "Groceries", "date": "2025-01-15"
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	expenseID := decode[struct {
		Expense expenseResponse `json:"expense"`
	}](t, rr).Expense.ID

	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "")
	require.Len(t, decode[summaryResponse](t, rr).Settlements, 2)

	rr = do(t, s, http.MethodPut, "/api/groups/"+id+"/edit_expense/"+expenseID, `{"amount":"60,00","description":"Market"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edited := decode[struct {
		Success bool            `json:"success"`
		Expense expenseResponse `json:"expense"`
	}](t, rr)
	assert.True(t, edited.Success)
	assert.Equal(t, "60.00", edited.Expense.Amount)
	assert.Equal(t, "Market", edited.Expense.Description)
	assert.Equal(t, "2025-01-15", edited.Expense.Date)

	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "")
	summary := decode[summaryResponse](t, rr)
	require.Len(t, summary.Settlements, 2)
	for _, l := range summary.Settlements {
		assert.InDelta(t, 20.0, l.Amount, 1e-6)
	}

	rr = do(t, s, http.MethodPut, "/api/groups/"+id+"/expenses/"+expenseID, `{"split_method":"payment","paid_for":["b"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "")
	summary = decode[summaryResponse](t, rr)
	require.Len(t, summary.Settlements, 1)
	assert.Equal(t, "Bob", summary.Settlements[0].From)
	assert.Equal(t, "Alice", summary.Settlements[0].To)
	assert.InDelta(t, 60.0, summary.Settlements[0].Amount, 1e-6)

	rr = do(t, s, http.MethodPut, "/api/groups/"+id+"/expenses/"+expenseID, `{"paid_for":["a"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestMembersJoinAndList(t *testing.T) {
	s := newTestServer(t, Config{})
	id := createTrip(t, s)
	members := "/api/groups/" + id + "/members"

	type membersBody struct {
		Success bool             `json:"success"`
		Members []memberResponse `json:"members"`
	}
	rr := do(t, s, http.MethodGet, members, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[membersBody](t, rr).Members, 3)

	rr = do(t, s, http.MethodPost, "/api/groups/join", `{"group_id":"`+id+`","member":{"id":"d","name":" Dave ","email":"dave@example.com"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	joined := decode[struct {
		Group groupResponse `json:"group"`
	}](t, rr)
	assert.Len(t, joined.Group.Members, 4)

	rr = do(t, s, http.MethodPost, members, `{"id":"e","name":"Erin"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodGet, members, "")
	list := decode[membersBody](t, rr)
	require.Len(t, list.Members, 5)
	assert.Equal(t, memberResponse{ID: "d", Name: "Dave", Email: "dave@example.com"}, list.Members[3])
	assert.Equal(t, "e", list.Members[4].ID)

	rr = do(t, s, http.MethodPost, "/api/groups/join", `{"group_id":"`+id+`","member":{"id":"a","name":"Alice"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = do(t, s, http.MethodPost, "/api/groups/join", `{"group_id":"nope","member":{"id":"z","name":"Zed"}}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/groups/nope/members", "").Code)
}

func TestDeleteGroup(t *testing.T) {
	s := newTestServer(t, Config{})
	id := createTrip(t, s)
	other := createTrip(t, s)

	rr := do(t, s, http.MethodPost, "/api/groups/"+id+"/expenses", `{"paid_by":"a","amount":"10","description":"Taxi"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, s, http.MethodDelete, "/api/groups/"+id+"/delete", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[envelope](t, rr).Success)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/groups/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/groups/"+id+"/expenses", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/groups/"+id+"/settlement_summary", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/groups/"+id, "").Code)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/api/groups/"+other, "").Code)
}
