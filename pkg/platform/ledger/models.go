// Package ledger is the append-only record of every geography sync decision.
//
// Automatic fuzzy matching is probabilistic, so every ingest outcome must be
// explainable after the fact. Entries are immutable, written in the same
// transaction as the registry mutation they describe, and replayable to
// reconstruct registry state.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	id "geosync/pkg/domain"
)

// Kind is the closed set of ledger event kinds. Each kind carries a fixed,
// typed payload; there are no free-form event blobs.
type Kind string

const (
	// KindUnitCreated records a first sighting: no acceptable canonical
	// match existed, a new canonical unit was created.
	KindUnitCreated Kind = "unit_created"
	// KindUnitMatched records an automatic link to an existing canonical unit.
	KindUnitMatched Kind = "unit_matched"
	// KindUnitMerged records a canonical unit folded into another.
	KindUnitMerged Kind = "unit_merged"
	// KindConflictOpened records ambiguous candidates handed to review.
	KindConflictOpened Kind = "conflict_opened"
	// KindConflictResolved records the administrator decision closing a case.
	KindConflictResolved Kind = "conflict_resolved"
)

// Candidate is one canonical unit considered during matching, with the score
// it achieved. Recorded so a decision can be audited against what the
// matcher saw at the time.
type Candidate struct {
	CanonicalID id.CanonicalID `json:"canonical_id"`
	Name        string         `json:"name"`
	Score       float64        `json:"score"`
}

// Payload is implemented by the per-kind payload variants.
type Payload interface {
	Kind() Kind
}

// UnitCreated is the payload for KindUnitCreated.
type UnitCreated struct {
	CanonicalID    id.CanonicalID `json:"canonical_id"`
	Level          int            `json:"level"`
	ParentID       id.CanonicalID `json:"parent_id,omitempty"`
	PrimaryName    string         `json:"primary_name"`
	NormalizedName string         `json:"normalized_name"`
}

func (UnitCreated) Kind() Kind { return KindUnitCreated }

// UnitMatched is the payload for KindUnitMatched.
type UnitMatched struct {
	CanonicalID id.CanonicalID `json:"canonical_id"`
	Score       float64        `json:"score"`
	// NameAdded is the tenant spelling admitted into the alternate-name
	// set, empty when the spelling was already known.
	NameAdded string `json:"name_added,omitempty"`
}

func (UnitMatched) Kind() Kind { return KindUnitMatched }

// UnitMerged is the payload for KindUnitMerged.
type UnitMerged struct {
	PrimaryID   id.CanonicalID `json:"primary_id"`
	SecondaryID id.CanonicalID `json:"secondary_id"`
	// RelinkedUnits counts tenant units re-pointed from secondary to primary.
	RelinkedUnits int `json:"relinked_units"`
}

func (UnitMerged) Kind() Kind { return KindUnitMerged }

// ConflictOpened is the payload for KindConflictOpened.
type ConflictOpened struct {
	CaseID id.CaseID `json:"case_id"`
}

func (ConflictOpened) Kind() Kind { return KindConflictOpened }

// ConflictResolved is the payload for KindConflictResolved.
type ConflictResolved struct {
	CaseID      id.CaseID      `json:"case_id"`
	Action      string         `json:"action"`
	ChosenID    id.CanonicalID `json:"chosen_id,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	CanonicalID id.CanonicalID `json:"canonical_id,omitempty"`
}

func (ConflictResolved) Kind() Kind { return KindConflictResolved }

// Entry is one immutable ledger record: a single ingest or resolution
// outcome, with the candidate list the matcher considered.
type Entry struct {
	ID         id.EntryID
	Timestamp  time.Time
	TenantID   id.TenantID
	UnitID     id.UnitID
	Candidates []Candidate
	Payload    Payload
}

// Kind returns the event kind of the entry's payload.
func (e Entry) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// CanonicalID returns the canonical unit the entry resolved to, if any.
func (e Entry) CanonicalID() id.CanonicalID {
	switch p := e.Payload.(type) {
	case UnitCreated:
		return p.CanonicalID
	case UnitMatched:
		return p.CanonicalID
	case UnitMerged:
		return p.PrimaryID
	case ConflictResolved:
		return p.ChosenID
	default:
		return id.CanonicalID{}
	}
}

// envelope is the stored/wire shape of an entry. The payload is tagged with
// its kind so decode can pick the right variant.
type envelope struct {
	ID         id.EntryID      `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	TenantID   id.TenantID     `json:"tenant_id"`
	UnitID     id.UnitID       `json:"unit_id"`
	Kind       Kind            `json:"kind"`
	Candidates []Candidate     `json:"candidates,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the entry with a kind tag for the payload.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("ledger entry %s has no payload", e.ID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger payload: %w", err)
	}
	return json.Marshal(envelope{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		TenantID:   e.TenantID,
		UnitID:     e.UnitID,
		Kind:       e.Payload.Kind(),
		Candidates: e.Candidates,
		Payload:    raw,
	})
}

// UnmarshalJSON decodes an entry, selecting the payload variant by kind tag.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal ledger envelope: %w", err)
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	e.ID = env.ID
	e.Timestamp = env.Timestamp
	e.TenantID = env.TenantID
	e.UnitID = env.UnitID
	e.Candidates = env.Candidates
	e.Payload = payload
	return nil
}

// DecodePayload selects and decodes the payload variant for a kind.
// Used by stores and consumers that receive the envelope fields separately.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch kind {
	case KindUnitCreated:
		var p UnitCreated
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		payload = p
	case KindUnitMatched:
		var p UnitMatched
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		payload = p
	case KindUnitMerged:
		var p UnitMerged
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		payload = p
	case KindConflictOpened:
		var p ConflictOpened
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		payload = p
	case KindConflictResolved:
		var p ConflictResolved
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		payload = p
	default:
		return nil, fmt.Errorf("unknown ledger entry kind %q", kind)
	}
	return payload, nil
}
