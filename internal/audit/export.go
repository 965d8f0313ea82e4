package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ErrUnsupportedFormat is returned for an export format other than csv or json.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportOptions configures a ledger export.
type ExportOptions struct {
	Format ExportFormat
	Filter Filter // Limit and Offset are ignored
	Limit  int    // Maximum number of entries to export (0 = no limit)
}

// Export writes an organisation's entries matching opts, newest first.
func Export(ctx context.Context, repo Repository, organisationID string, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}

	filter := opts.Filter
	filter.Limit = MaxPageSize
	filter.Offset = 0

	var entries []*Entry
	for {
		page, total, err := repo.Query(ctx, organisationID, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query entries: %w", err)
		}
		entries = append(entries, page...)
		if len(page) == 0 || len(entries) >= total || (opts.Limit > 0 && len(entries) >= opts.Limit) {
			break
		}
		filter.Offset += len(page)
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	default:
		return exportToJSON(entries)
	}
}

var csvHeader = []string{
	"ID", "Timestamp (UTC)", "Actor ID", "Entity Type", "Entity ID", "Action", "Field",
	"Old Value", "New Value", "Changes", "Approval Status", "Approver ID", "Rejection Reason",
	"Request ID", "IP Address", "User Agent", "URL", "Previous Hash", "Hash",
}

func exportToCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.ActorID,
			e.EntityType,
			e.EntityID,
			string(e.Action),
			e.FieldName,
			jsonCell(e.OldValue),
			jsonCell(e.NewValue),
			jsonCell(e.Changes),
			string(e.Approval.Status),
			e.Approval.ApproverID,
			e.Approval.RejectionReason,
			e.RequestID,
			e.IPAddress,
			e.UserAgent,
			e.URL,
			e.PreviousHash,
			e.Hash,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func jsonCell(v any) string {
	if v == nil {
		return ""
	}
	if m, ok := v.(map[string]FieldChange); ok && len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func exportToJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
