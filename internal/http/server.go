package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/middleware/ratelimit"
	"settleup/internal/middleware/security"
	"settleup/internal/middleware/trace"
	"settleup/internal/services"
)

// GroupService is the group and expense API the handlers call.
type GroupService interface {
	CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
	GetGroup(ctx context.Context, id string) (core.Group, error)
	ListGroups(ctx context.Context) ([]core.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	AddMember(ctx context.Context, groupID string, m core.Member) (core.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]core.Member, error)
	AddExpense(ctx context.Context, in services.ExpenseInput) (core.GroupExpense, error)
	ListExpenses(ctx context.Context, groupID string) ([]core.GroupExpense, error)
	UpdateExpense(ctx context.Context, groupID, expenseID string, upd services.ExpenseUpdate) (core.GroupExpense, error)
	DeleteExpense(ctx context.Context, groupID, expenseID string) error
}

// SummaryService renders a group's settlement summary.
type SummaryService interface {
	Summary(ctx context.Context, groupID string) (core.SettlementSummary, error)
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Config holds the server settings taken from the environment.
type Config struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	ReadyChecks        map[string]ReadinessCheck
}

type Server struct {
	http.Server
	groups      GroupService
	summaries   SummaryService
	readyChecks map[string]ReadinessCheck
	limiter     *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware
	logger      *log.Logger
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, groups GroupService, summaries SummaryService, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		groups:      groups,
		summaries:   summaries,
		readyChecks: cfg.ReadyChecks,
		limiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector:    detector,
		tracer:      trace.NewMiddleware(logger, detector.ClientIP),
		logger:      logger,
		started:     time.Now(),
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Middleware(detector.ClientIP, ratelimit.WritesOnly, func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	}))
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/join", s.handleJoinGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id}/delete", s.handleDeleteGroup).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id}/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/expenses", s.handleAddExpense).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/expenses", s.handleListExpenses).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/expenses/{expenseID}", s.handleUpdateExpense).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/edit_expense/{expenseID}", s.handleUpdateExpense).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/expenses/{expenseID}", s.handleDeleteExpense).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id}/settlement_summary", s.handleSettlementSummary).Methods(http.MethodGet)

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", trace.HeaderRequestID},
		ExposedHeaders: []string{trace.HeaderRequestID},
		MaxAge:         600,
	})

	var handler http.Handler = router
	handler = corsHandler.Handler(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = s.flagSuspicious(handler)
	handler = s.tracer.Handler(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// flagSuspicious logs probe-looking requests; they are still served.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.IsSuspicious(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
