package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/caregov/internal/access"
	"github.com/onnwee/caregov/internal/api"
	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/auth"
	"github.com/onnwee/caregov/internal/governance"
	"github.com/onnwee/caregov/internal/idempotency"
	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/middleware"
	"github.com/onnwee/caregov/internal/team"
)

// serviceName labels spans and the root endpoint.
const serviceName = "caregov-api"

// stores is the persistence layer behind the services.
type stores struct {
	entries     audit.Repository
	rules       approval.RuleRepository
	requests    approval.RequestRepository
	teams       team.Repository
	memberships membership.Repository
}

func postgresStores(conn *sql.DB, logger *slog.Logger) stores {
	return stores{
		entries:     audit.NewPostgresRepository(conn, logger),
		rules:       approval.NewPostgresRuleRepository(conn),
		requests:    approval.NewPostgresRequestRepository(conn, logger),
		teams:       team.NewPostgresRepository(conn, logger),
		memberships: membership.NewPostgresRepository(conn, logger),
	}
}

// appOptions carries everything newApp needs besides the stores.
type appOptions struct {
	Logger          *slog.Logger
	JWT             *auth.JWTService
	Notifier        approval.Notifier
	Idempotency     idempotency.Store
	ApprovalExpiry  time.Duration
	ManagerRoleName string
	Registry        *prometheus.Registry
	DBChecker       api.HealthChecker
	RedisChecker    api.HealthChecker
}

// app is the wired service graph.
type app struct {
	handler http.Handler
}

func newApp(s stores, opts appOptions) (*app, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = approval.NoopNotifier{}
	}
	keys := opts.Idempotency
	if keys == nil {
		keys = idempotency.NewInMemoryStore()
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	auditMetrics := audit.NewMetrics()
	approvalMetrics := approval.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		auditMetrics.Register,
		approvalMetrics.Register,
		httpMetrics.Register,
	} {
		if err := register(reg); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	ledger := audit.NewLedger(s.entries, logger, auditMetrics)
	engine := approval.NewEngine(s.rules, logger)
	hierarchy := team.NewHierarchy(s.teams, logger)
	memberSvc := membership.NewService(s.memberships, s.teams, logger)
	resolver := access.NewResolver(s.teams, s.memberships, logger)
	queue := approval.NewQueue(s.requests, ledger, resolver,
		governance.NewTeamManagerResolver(s.teams, memberSvc, opts.ManagerRoleName),
		approval.WithNotifier(notifier),
		approval.WithLogger(logger),
		approval.WithMetrics(approvalMetrics),
	)
	gov := governance.NewService(ledger, engine, queue, resolver,
		governance.Config{ApprovalExpiry: opts.ApprovalExpiry}, logger)

	requireActor := auth.RequireActor(opts.JWT, api.AuthFailure)
	replayable := idempotency.Middleware(keys, api.IdempotencyFailure, logger)
	authenticate := func(next http.Handler) http.Handler {
		return requireActor(replayable(next))
	}

	router := api.NewRouter(api.RouterConfig{
		Approvals:   api.NewApprovalHandlers(queue),
		Audit:       api.NewAuditHandlers(ledger),
		Rules:       api.NewRuleHandlers(engine),
		Teams:       api.NewTeamHandlers(hierarchy, gov),
		Memberships: api.NewMembershipHandlers(memberSvc, gov),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    opts.DBChecker,
			RedisChecker: opts.RedisChecker,
		}),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Auth:    authenticate,
	})

	// Outermost first: Tracing -> RequestID -> RequestInfo -> Logging -> HTTPMetrics -> routes
	var handler http.Handler = router
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestInfo(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Tracing(serviceName)(handler)

	return &app{handler: handler}, nil
}
