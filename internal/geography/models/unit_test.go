package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

func TestSyncStateTransitions(t *testing.T) {
	tests := []struct {
		from    SyncState
		to      SyncState
		allowed bool
	}{
		{SyncStateDraft, SyncStatePendingSync, true},
		{SyncStateDraft, SyncStateSynced, false},
		{SyncStatePendingSync, SyncStateMatched, true},
		{SyncStatePendingSync, SyncStateConflictOpen, true},
		{SyncStatePendingSync, SyncStateSynced, true},
		{SyncStatePendingSync, SyncStateRejected, false},
		{SyncStateMatched, SyncStateSynced, true},
		{SyncStateMatched, SyncStateConflictOpen, false},
		{SyncStateConflictOpen, SyncStateSynced, true},
		{SyncStateConflictOpen, SyncStateRejected, true},
		{SyncStateConflictOpen, SyncStatePendingSync, true},
		{SyncStateSynced, SyncStatePendingSync, true},
		{SyncStateSynced, SyncStateMatched, false},
		{SyncStateRejected, SyncStatePendingSync, true},
		{SyncStateRejected, SyncStateSynced, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSyncStateIsTerminal(t *testing.T) {
	assert.True(t, SyncStateSynced.IsTerminal())
	assert.True(t, SyncStateRejected.IsTerminal())
	assert.False(t, SyncStateDraft.IsTerminal())
	assert.False(t, SyncStatePendingSync.IsTerminal())
	assert.False(t, SyncStateConflictOpen.IsTerminal())
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	unit := validUnit(t)
	require.Equal(t, SyncStateDraft, unit.SyncState)

	err := unit.Transition(SyncStateSynced, time.Now())
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidState, dErrors.CodeOf(err))
	assert.Equal(t, SyncStateDraft, unit.SyncState)

	require.NoError(t, unit.Transition(SyncStatePendingSync, time.Now()))
	assert.Equal(t, SyncStatePendingSync, unit.SyncState)
}

func TestDeclaredName(t *testing.T) {
	tests := []struct {
		name  string
		names map[string]string
		want  string
	}{
		{"prefers default language", map[string]string{"en": "Bagmati", "ne": "बागमती"}, "Bagmati"},
		{"falls back past empty default", map[string]string{"en": "", "ne": "बागमती"}, "बागमती"},
		{"picks lexically first language", map[string]string{"ne": "बागमती", "mai": "बागमती प्रदेश"}, "बागमती प्रदेश"},
		{"single entry", map[string]string{"ne": "गण्डकी"}, "गण्डकी"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := &TenantGeoUnit{Names: tt.names}
			assert.Equal(t, tt.want, unit.DeclaredName())
		})
	}
}

func TestNewTenantGeoUnitValidation(t *testing.T) {
	now := time.Now()
	tenantID := id.NewTenantID()
	parentID := id.NewUnitID()

	t.Run("valid country unit", func(t *testing.T) {
		unit, err := NewTenantGeoUnit(id.NewUnitID(), tenantID, LevelCountry, nil, map[string]string{"en": "Nepal"}, "NP", now)
		require.NoError(t, err)
		assert.Equal(t, SyncStateDraft, unit.SyncState)
		assert.False(t, unit.IsLinked())
	})

	t.Run("rejects nil tenant", func(t *testing.T) {
		_, err := NewTenantGeoUnit(id.NewUnitID(), id.TenantID{}, LevelCountry, nil, map[string]string{"en": "Nepal"}, "", now)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvariantViolation, dErrors.CodeOf(err))
	})

	t.Run("rejects level beyond max", func(t *testing.T) {
		_, err := NewTenantGeoUnit(id.NewUnitID(), tenantID, MaxLevel+1, &parentID, map[string]string{"en": "Tole"}, "", now)
		require.Error(t, err)
	})

	t.Run("rejects country with parent", func(t *testing.T) {
		_, err := NewTenantGeoUnit(id.NewUnitID(), tenantID, LevelCountry, &parentID, map[string]string{"en": "Nepal"}, "", now)
		require.Error(t, err)
	})

	t.Run("rejects non-country without parent", func(t *testing.T) {
		_, err := NewTenantGeoUnit(id.NewUnitID(), tenantID, 1, nil, map[string]string{"en": "Bagmati"}, "", now)
		require.Error(t, err)
	})

	t.Run("rejects empty names", func(t *testing.T) {
		_, err := NewTenantGeoUnit(id.NewUnitID(), tenantID, LevelCountry, nil, map[string]string{"en": ""}, "", now)
		require.Error(t, err)
	})
}

func TestLinkAndRetire(t *testing.T) {
	unit := validUnit(t)
	canonicalID := id.NewCanonicalID()

	unit.Link(canonicalID, time.Now())
	require.True(t, unit.IsLinked())
	assert.Equal(t, canonicalID, *unit.CanonicalID)

	unit.Retire(time.Now())
	assert.True(t, unit.Retired)
}

func validUnit(t *testing.T) *TenantGeoUnit {
	t.Helper()
	unit, err := NewTenantGeoUnit(id.NewUnitID(), id.NewTenantID(), LevelCountry, nil, map[string]string{"en": "Nepal"}, "NP", time.Now())
	require.NoError(t, err)
	return unit
}
