package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// hashedFields is the write-once portion of an entry covered by the hash chain.
// The approval tail is deliberately absent: it changes after append.
type hashedFields struct {
	ID             string                 `json:"id"`
	OrganisationID string                 `json:"organisation_id"`
	ActorID        string                 `json:"actor_id"`
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Action         Action                 `json:"action"`
	FieldName      string                 `json:"field_name"`
	OldValue       any                    `json:"old_value"`
	NewValue       any                    `json:"new_value"`
	Changes        map[string]FieldChange `json:"changes"`
	Metadata       map[string]any         `json:"metadata"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	URL            string                 `json:"url"`
	RequestID      string                 `json:"request_id"`
	CreatedAt      string                 `json:"created_at"`
	PreviousHash   string                 `json:"previous_hash"`
}

// computeEntryHash returns the hex SHA-256 of the entry's write-once fields.
func computeEntryHash(e *Entry) (string, error) {
	changes := e.Changes
	if len(changes) == 0 {
		changes = nil
	}
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = nil
	}
	payload, err := canonicalJSON(hashedFields{
		ID:             e.ID,
		OrganisationID: e.OrganisationID,
		ActorID:        e.ActorID,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		Action:         e.Action,
		FieldName:      e.FieldName,
		OldValue:       e.OldValue,
		NewValue:       e.NewValue,
		Changes:        changes,
		Metadata:       metadata,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		URL:            e.URL,
		RequestID:      e.RequestID,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		PreviousHash:   e.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode entry for hashing: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// ChainBreak describes the first entry whose hash or link does not verify.
type ChainBreak struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

func (b *ChainBreak) Error() string {
	return fmt.Sprintf("audit chain broken at entry %d (%s): %s", b.Index, b.EntryID, b.Reason)
}

// VerifyChain checks entries of one organisation given oldest first. It returns
// a *ChainBreak for the first entry that was altered or is not linked to its
// predecessor, or nil when the chain is intact.
func VerifyChain(entries []*Entry) error {
	for i, e := range entries {
		want, err := computeEntryHash(e)
		if err != nil {
			return &ChainBreak{Index: i, EntryID: e.ID, Reason: err.Error()}
		}
		if e.Hash != want {
			return &ChainBreak{Index: i, EntryID: e.ID, Reason: "hash mismatch"}
		}
		if i > 0 && e.PreviousHash != entries[i-1].Hash {
			return &ChainBreak{Index: i, EntryID: e.ID, Reason: "previous hash does not match predecessor"}
		}
	}
	return nil
}

// entryTimestamp is the append time truncated to the precision Postgres keeps,
// so hashes verify after a database round trip.
func entryTimestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
