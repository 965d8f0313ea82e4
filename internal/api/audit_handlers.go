package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/onnwee/caregov/internal/audit"
)

// AuditHandlers serves reads of the change ledger.
type AuditHandlers struct {
	ledger *audit.Ledger
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(ledger *audit.Ledger) *AuditHandlers {
	return &AuditHandlers{ledger: ledger}
}

// entryList is the envelope for an entity's history.
type entryList struct {
	Entries []*audit.Entry `json:"entries"`
}

// Query handles GET /audit. Administrators only.
//
// Query parameters: entity_type, entity_id, action, actor_id, approval_status,
// from and to (RFC 3339), q (free text), limit, offset.
func (h *AuditHandlers) Query(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	page, err := h.ledger.ByOrganisation(r.Context(), actor.OrganisationID, filter)
	if err != nil {
		writeServiceError(w, r, err, "Failed to query audit entries")
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

// ByEntity handles GET /audit/entities/{type}/{id}, newest first.
func (h *AuditHandlers) ByEntity(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	entries, err := h.ledger.ByEntity(r.Context(), actor.OrganisationID, r.PathValue("type"), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load entity history")
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, r, http.StatusOK, entryList{Entries: entries})
}

// Export handles GET /audit/export?format=csv|json. Administrators only. It
// accepts the same filters as Query; limit caps the number of rows.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	format := audit.ExportFormat(q.Get("format"))
	if format == "" {
		format = audit.ExportFormatCSV
	}
	data, err := h.ledger.Export(r.Context(), actor.OrganisationID, audit.ExportOptions{
		Format: format,
		Filter: filter,
		Limit:  filter.Limit,
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to export audit entries")
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == audit.ExportFormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.%s"`, time.Now().UTC().Format("20060102"), format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// verifyResponse reports the outcome of a chain verification.
type verifyResponse struct {
	Valid bool              `json:"valid"`
	Break *audit.ChainBreak `json:"break,omitempty"`
}

// Verify handles GET /audit/verify. Administrators only. A broken chain is a
// successful response with valid=false.
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	err := h.ledger.Verify(r.Context(), actor.OrganisationID)
	var chainBreak *audit.ChainBreak
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, verifyResponse{Valid: true})
	case errors.As(err, &chainBreak):
		writeJSON(w, r, http.StatusOK, verifyResponse{Valid: false, Break: chainBreak})
	default:
		writeServiceError(w, r, err, "Failed to verify audit chain")
	}
}

func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		EntityType:     q.Get("entity_type"),
		EntityID:       q.Get("entity_id"),
		Action:         audit.Action(q.Get("action")),
		ActorID:        q.Get("actor_id"),
		ApprovalStatus: audit.ApprovalStatus(q.Get("approval_status")),
		Search:         q.Get("q"),
	}
	if f.Action != "" && !f.Action.Valid() {
		return f, fmt.Errorf("unknown action %q", f.Action)
	}

	var err error
	if f.From, err = timeParam(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(q, "to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("to must not be before from")
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func timeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
