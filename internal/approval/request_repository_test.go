package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/caregov/internal/audit"
)

func newPendingRequest(t *testing.T, entries *audit.InMemoryRepository, repo *InMemoryRequestRepository) *Request {
	t.Helper()
	ctx := context.Background()
	entry, err := entries.Append(ctx, audit.LogEntry{
		OrganisationID: "org-1", ActorID: "carer", EntityType: "rate", EntityID: "rate-1", Action: audit.ActionUpdate,
	})
	if err != nil {
		t.Fatal(err)
	}
	req := &Request{
		ID: "req-1", OrganisationID: "org-1", AuditEntryID: entry.ID, RequesterID: "carer",
		Approver: ApproverSpec{Type: ApproverUser, UserID: "lead"}, Status: StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return req
}

func TestInMemoryRequestRepository_ResolveIsAtomic(t *testing.T) {
	ctx := context.Background()
	entries := audit.NewInMemoryRepository()
	repo := NewInMemoryRequestRepository(entries)
	req := newPendingRequest(t, entries, repo)

	// Close the entry's tail behind the repository's back.
	if err := entries.TransitionApproval(ctx, req.AuditEntryID, audit.ApprovalPending, audit.ApprovalTail{Status: audit.ApprovalApproved}); err != nil {
		t.Fatal(err)
	}

	_, err := repo.Resolve(ctx, "org-1", req.ID, Resolution{Status: StatusRejected, ResolvedBy: "lead", ResolvedAt: time.Now()})
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("Resolve() error = %v, want ErrNotPending", err)
	}

	got, _ := repo.Get(ctx, "org-1", req.ID)
	if got.Status != StatusPending || got.ResolvedBy != "" {
		t.Errorf("request = %+v, want it untouched", got)
	}
}

func TestInMemoryRequestRepository_CreateRequiresUnapprovedEntry(t *testing.T) {
	ctx := context.Background()
	entries := audit.NewInMemoryRepository()
	repo := NewInMemoryRequestRepository(entries)
	req := newPendingRequest(t, entries, repo)

	if _, err := repo.Resolve(ctx, "org-1", req.ID, Resolution{Status: StatusApproved, ResolvedBy: "lead", ResolvedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	// A resolved entry cannot be reopened.
	reopen := *req
	reopen.ID = "req-2"
	if err := repo.Create(ctx, &reopen); !errors.Is(err, ErrAlreadyPending) {
		t.Errorf("Create() on resolved entry error = %v, want ErrAlreadyPending", err)
	}
	if _, err := repo.Get(ctx, "org-1", "req-2"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("failed Create() left a request behind: %v", err)
	}
}

func TestInMemoryRequestRepository_CreateMissingEntry(t *testing.T) {
	repo := NewInMemoryRequestRepository(audit.NewInMemoryRepository())
	err := repo.Create(context.Background(), &Request{ID: "r", OrganisationID: "org-1", AuditEntryID: "missing", Status: StatusPending})
	if !errors.Is(err, audit.ErrEntryNotFound) {
		t.Errorf("Create() error = %v, want ErrEntryNotFound", err)
	}
}

func TestPendingQuery_ZeroNowUsesCurrentTime(t *testing.T) {
	ctx := context.Background()
	entries := audit.NewInMemoryRepository()
	repo := NewInMemoryRequestRepository(entries)
	newPendingRequest(t, entries, repo)

	reqs, err := repo.ListPending(ctx, "org-1", PendingQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Errorf("ListPending() = %d requests, want 1", len(reqs))
	}
}

func TestRequest_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if (&Request{}).Expired(now) {
		t.Error("request without expiry should never expire")
	}
	if !(&Request{ExpiresAt: &past}).Expired(now) {
		t.Error("request with past expiry should be expired")
	}
	if !(&Request{ExpiresAt: &now}).Expired(now) {
		t.Error("request expiring now should be expired")
	}
	if (&Request{ExpiresAt: &future}).Expired(now) {
		t.Error("request with future expiry should not be expired")
	}
}
