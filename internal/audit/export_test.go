package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
)

func seedExport(t *testing.T) *InMemoryRepository {
	t.Helper()
	repo := NewInMemoryRepository()
	appendEntry(t, repo, testEntry("org-1", "c-1", ActionCreate))
	update := testEntry("org-1", "c-1", ActionUpdate)
	update.Changes = map[string]FieldChange{"status": {Old: "draft", New: "live"}}
	appendEntry(t, repo, update)
	appendEntry(t, repo, LogEntry{
		OrganisationID: "org-1", ActorID: "user-2", EntityType: "rate", EntityID: "r-1", Action: ActionDelete,
	})
	appendEntry(t, repo, testEntry("org-2", "c-5", ActionCreate))
	return repo
}

func TestExport_CSV(t *testing.T) {
	repo := seedExport(t)

	data, err := Export(context.Background(), repo, "org-1", ExportOptions{
		Format: ExportFormatCSV,
		Filter: Filter{EntityType: "contract"},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}

	// header + 2 contract rows
	if len(records) != 3 {
		t.Fatalf("expected 3 CSV rows, got %d", len(records))
	}
	if len(records[0]) != len(csvHeader) {
		t.Errorf("header has %d columns, want %d", len(records[0]), len(csvHeader))
	}

	// newest first: the update row carries the diff
	if records[1][5] != string(ActionUpdate) {
		t.Errorf("first row action = %q, want update", records[1][5])
	}
	if !strings.Contains(records[1][9], `"status"`) {
		t.Errorf("changes column = %q, want status diff", records[1][9])
	}
	if records[2][9] != "" {
		t.Errorf("create row changes column = %q, want empty", records[2][9])
	}
}

func TestExport_JSON(t *testing.T) {
	repo := seedExport(t)

	data, err := Export(context.Background(), repo, "org-1", ExportOptions{Format: ExportFormatJSON})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.OrganisationID != "org-1" {
			t.Errorf("exported entry from %s", e.OrganisationID)
		}
		if e.Hash == "" {
			t.Error("exported entry has no hash")
		}
	}
}

func TestExport_Limit(t *testing.T) {
	repo := seedExport(t)

	data, err := Export(context.Background(), repo, "org-1", ExportOptions{Format: ExportFormatJSON, Limit: 1})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EntityID != "r-1" {
		t.Errorf("expected only the newest entry, got %+v", entries)
	}
}

func TestExport_Empty(t *testing.T) {
	data, err := Export(context.Background(), NewInMemoryRepository(), "org-1", ExportOptions{Format: ExportFormatJSON})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("Export() = %s, want []", data)
	}
}

func TestExport_InvalidFormat(t *testing.T) {
	_, err := Export(context.Background(), NewInMemoryRepository(), "org-1", ExportOptions{Format: "xml"})
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}
