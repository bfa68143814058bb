package http

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"settleup/internal/log"
)

const readyTimeout = 5 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady runs every registered dependency check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.readyChecks))
	for name := range s.readyChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.readyChecks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"checks":             checks,
		"rate_limit_clients": s.limiter.ActiveClients(),
	})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	g, err := s.groups.CreateGroup(r.Context(), req.toGroup())
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "group": newGroupResponse(g)})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListGroups(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, newGroupResponse(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "groups": out})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.groups.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "group": newGroupResponse(g)})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.DeleteGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	writeMessage(w, http.StatusOK, "Group deleted")
}

// handleJoinGroup adds the caller to the group named in the body.
func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	s.addMember(w, r, strings.TrimSpace(req.GroupID), req.Member)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	s.addMember(w, r, mux.Vars(r)["id"], req)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request, groupID string, req memberRequest) {
	g, err := s.groups.AddMember(r.Context(), groupID, req.toMember())
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "group": newGroupResponse(g)})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.groups.ListMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "members": out})
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req addExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	in, err := req.toInput(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	e, err := s.groups.AddExpense(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "expense": newExpenseResponse(e)})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.groups.ListExpenses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expenses": out})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req updateExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	vars := mux.Vars(r)
	e, err := s.groups.UpdateExpense(r.Context(), vars["id"], vars["expenseID"], upd)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expense": newExpenseResponse(e)})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.groups.DeleteExpense(r.Context(), vars["id"], vars["expenseID"]); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	writeMessage(w, http.StatusOK, "Expense deleted")
}

func (s *Server) handleSettlementSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summaries.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, log.OpSettle, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}
