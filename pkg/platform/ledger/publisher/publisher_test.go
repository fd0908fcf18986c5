package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	ledgermem "geosync/pkg/platform/ledger/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, ledger.Entry) error { return errors.New("disk full") }
func (failingStore) ListFrom(context.Context, time.Time) ([]ledger.Entry, error) {
	return nil, nil
}
func (failingStore) ListByUnit(context.Context, id.UnitID) ([]ledger.Entry, error) {
	return nil, nil
}

func testEntry() ledger.Entry {
	return ledger.Entry{
		ID:        id.NewEntryID(),
		Timestamp: time.Now(),
		TenantID:  id.NewTenantID(),
		UnitID:    id.NewUnitID(),
		Payload:   ledger.UnitMatched{CanonicalID: id.NewCanonicalID(), Score: 0.95},
	}
}

func TestEmitAppendsToStore(t *testing.T) {
	store := ledgermem.New()
	p := New(store)

	entry := testEntry()
	require.NoError(t, p.Emit(context.Background(), entry))
	require.Equal(t, 1, store.Len())

	got, err := store.ListByUnit(context.Background(), entry.UnitID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
}

func TestEmitFailsClosed(t *testing.T) {
	p := New(failingStore{})

	err := p.Emit(context.Background(), testEntry())
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeSyncPersistence, dErrors.CodeOf(err))
	assert.True(t, dErrors.Retryable(err))
}
