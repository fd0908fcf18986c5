// Package matcher ranks canonical candidates for a tenant-declared name.
//
// Independent tenants report the same real-world place with spelling and
// transliteration variation. The matcher unifies them without a human in the
// loop for the common case while never silently picking between two
// near-ties: those go to conflict review.
package matcher

import (
	"context"
	"log/slog"
	"sort"

	"geosync/internal/canonical/models"
	id "geosync/pkg/domain"
)

// Config holds the matching thresholds.
type Config struct {
	// HighThreshold is the minimum score for automatic acceptance.
	// Inclusive: a candidate at exactly the threshold is accepted.
	HighThreshold float64
	// TieMargin is how far the runner-up must trail the best candidate for
	// the best to win automatically.
	TieMargin float64
	// FloorThreshold is the minimum score for a candidate to appear in a
	// conflict case at all.
	FloorThreshold float64
}

// DefaultConfig mirrors the informal production tuning.
func DefaultConfig() Config {
	return Config{HighThreshold: 0.70, TieMargin: 0.10, FloorThreshold: 0.40}
}

// Scored is one candidate with its best score across primary and alternate
// names.
type Scored struct {
	Unit  *models.CanonicalUnit
	Score float64
}

// Verdict classifies the decision for a ranked candidate list.
type Verdict int

const (
	// VerdictNoMatch: nothing above the floor; create a new canonical unit.
	VerdictNoMatch Verdict = iota
	// VerdictAccept: exactly one confident winner; link automatically.
	VerdictAccept
	// VerdictAmbiguous: plausible candidates but no clear winner; open a
	// conflict case.
	VerdictAmbiguous
)

// Result is the matcher output for one declared name.
type Result struct {
	Verdict Verdict
	// Best is set for VerdictAccept.
	Best *Scored
	// Candidates holds everything at or above the floor, best first.
	// Recorded in the ledger regardless of verdict.
	Candidates []Scored
	// NormalizedName is the matching form of the declared name.
	NormalizedName string
}

// CandidateStore lists live canonical units in one (parent, level) scope.
type CandidateStore interface {
	ListActive(ctx context.Context, parentID *id.CanonicalID, level int) ([]*models.CanonicalUnit, error)
}

// Matcher scores a declared name against canonical candidates.
type Matcher struct {
	store  CandidateStore
	cfg    Config
	logger *slog.Logger
}

// Option configures the Matcher.
type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

func New(store CandidateStore, cfg Config, opts ...Option) *Matcher {
	if cfg.HighThreshold == 0 {
		cfg = DefaultConfig()
	}
	m := &Matcher{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match ranks candidates for declaredName at the given level. When the
// submitting unit's parent is canonically matched, canonicalParent restricts
// the search to that parent's children; nil searches the whole level.
func (m *Matcher) Match(ctx context.Context, declaredName string, level int, canonicalParent *id.CanonicalID) (*Result, error) {
	normalized := Normalize(declaredName)

	units, err := m.store.ListActive(ctx, canonicalParent, level)
	if err != nil {
		return nil, err
	}

	candidates := rank(normalized, units, m.cfg.FloorThreshold)
	result := &Result{
		Verdict:        decide(candidates, m.cfg),
		Candidates:     candidates,
		NormalizedName: normalized,
	}
	if result.Verdict == VerdictAccept {
		result.Best = &candidates[0]
	}

	if m.logger != nil {
		m.logger.DebugContext(ctx, "match evaluated",
			"declared_name", declaredName,
			"normalized", normalized,
			"level", level,
			"candidates", len(candidates),
			"verdict", int(result.Verdict),
		)
	}
	return result, nil
}

// rank scores every unit against the normalized name and keeps those at or
// above floor, sorted best first with ID as a deterministic tiebreak.
func rank(normalized string, units []*models.CanonicalUnit, floor float64) []Scored {
	scored := make([]Scored, 0, len(units))
	for _, unit := range units {
		if unit.Retired {
			continue
		}
		best := 0.0
		for _, name := range unit.AllNames() {
			if s := Similarity(normalized, Normalize(name)); s > best {
				best = s
			}
		}
		// The stored normalized form catches spellings whose raw forms
		// differ only in noise words.
		if s := Similarity(normalized, unit.NormalizedName); s > best {
			best = s
		}
		if best >= floor {
			scored = append(scored, Scored{Unit: unit, Score: best})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Unit.ID.String() < scored[j].Unit.ID.String()
	})
	return scored
}

// decide applies the acceptance rule: exactly one candidate at or above the
// high threshold, with the runner-up trailing by more than the tie margin.
func decide(candidates []Scored, cfg Config) Verdict {
	if len(candidates) == 0 {
		return VerdictNoMatch
	}
	confident := 0
	for _, c := range candidates {
		if c.Score >= cfg.HighThreshold {
			confident++
		}
	}
	if confident == 0 {
		return VerdictAmbiguous
	}
	if confident > 1 {
		return VerdictAmbiguous
	}
	if len(candidates) > 1 && candidates[0].Score-candidates[1].Score <= cfg.TieMargin {
		return VerdictAmbiguous
	}
	return VerdictAccept
}
