package api

import (
	"net/http"
)

// RouterConfig collects the handler groups served by NewRouter. Auth wraps
// every route except the probes and /metrics; a nil Metrics handler leaves
// /metrics unrouted.
type RouterConfig struct {
	Approvals   *ApprovalHandlers
	Audit       *AuditHandlers
	Rules       *RuleHandlers
	Teams       *TeamHandlers
	Memberships *MembershipHandlers
	Health      *HealthHandlers
	Metrics     http.Handler
	Auth        func(http.Handler) http.Handler
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /approvals/pending", cfg.Approvals.PendingForUser)
	api.HandleFunc("GET /approvals/organisation", cfg.Approvals.PendingForOrganisation)
	api.HandleFunc("POST /approvals/{id}/approve", cfg.Approvals.Approve)
	api.HandleFunc("POST /approvals/{id}/reject", cfg.Approvals.Reject)

	api.HandleFunc("GET /audit", cfg.Audit.Query)
	api.HandleFunc("GET /audit/entities/{type}/{id}", cfg.Audit.ByEntity)
	api.HandleFunc("GET /audit/export", cfg.Audit.Export)
	api.HandleFunc("GET /audit/verify", cfg.Audit.Verify)

	api.HandleFunc("GET /approval-rules", cfg.Rules.List)
	api.HandleFunc("POST /approval-rules", cfg.Rules.Create)
	api.HandleFunc("PUT /approval-rules/{id}", cfg.Rules.Update)
	api.HandleFunc("DELETE /approval-rules/{id}", cfg.Rules.Delete)

	api.HandleFunc("GET /team-types", cfg.Teams.ListTypes)
	api.HandleFunc("POST /team-types", cfg.Teams.CreateType)
	api.HandleFunc("PUT /team-types/{id}", cfg.Teams.UpdateType)
	api.HandleFunc("DELETE /team-types/{id}", cfg.Teams.DeleteType)

	api.HandleFunc("GET /team-roles", cfg.Teams.ListRoles)
	api.HandleFunc("POST /team-roles", cfg.Teams.CreateRole)
	api.HandleFunc("PUT /team-roles/{id}", cfg.Teams.UpdateRole)
	api.HandleFunc("DELETE /team-roles/{id}", cfg.Teams.DeleteRole)

	api.HandleFunc("GET /teams", cfg.Teams.ListTeams)
	api.HandleFunc("POST /teams", cfg.Teams.CreateTeam)
	api.HandleFunc("PUT /teams/{id}", cfg.Teams.UpdateTeam)
	api.HandleFunc("PUT /teams/{id}/parent", cfg.Teams.SetParent)
	api.HandleFunc("POST /teams/{id}/deactivate", cfg.Teams.Deactivate)
	api.HandleFunc("POST /teams/{id}/reactivate", cfg.Teams.Reactivate)
	api.HandleFunc("GET /teams/{id}/path", cfg.Teams.Path)
	api.HandleFunc("GET /teams/{id}/descendants", cfg.Teams.Descendants)
	api.HandleFunc("GET /teams/{id}/memberships", cfg.Memberships.ListByTeam)

	api.HandleFunc("POST /memberships", cfg.Memberships.Add)
	api.HandleFunc("DELETE /memberships/{id}", cfg.Memberships.Remove)
	api.HandleFunc("POST /memberships/{id}/primary", cfg.Memberships.SetPrimary)
	api.HandleFunc("GET /me/memberships", cfg.Memberships.Mine)
	api.HandleFunc("GET /me/access-scope", cfg.Memberships.AccessScope)

	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var protected http.Handler = api
	if cfg.Auth != nil {
		protected = cfg.Auth(api)
	}

	root := http.NewServeMux()
	if cfg.Health != nil {
		root.HandleFunc("GET /health", cfg.Health.Health)
		root.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		root.Handle("GET /metrics", cfg.Metrics)
	}
	root.Handle("/", protected)
	return root
}
