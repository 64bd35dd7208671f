package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

func TestAnnotationStore_InsertAndGet(t *testing.T) {
	store := NewAnnotationStore()
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.Insert(ctx, &domain.Annotation{
			ID:        uuid.NewString(),
			Symbol:    "BTCUSDT",
			Payload:   json.RawMessage(fmt.Sprintf(`{"label":"zone %d"}`, i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := store.GetBySymbol(ctx, "BTCUSDT", 100)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"label":"zone 2"}`, string(got[0].Payload))
	assert.JSONEq(t, `{"label":"zone 0"}`, string(got[2].Payload))

	got, err = store.GetBySymbol(ctx, "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"label":"zone 2"}`, string(got[0].Payload))

	got, err = store.GetBySymbol(ctx, "ETHUSDT", 100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnnotationStore_DuplicateID(t *testing.T) {
	store := NewAnnotationStore()
	ctx := context.Background()

	a := &domain.Annotation{ID: uuid.NewString(), Symbol: "BTCUSDT", Payload: json.RawMessage(`{}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Insert(ctx, a))
	assert.ErrorIs(t, store.Insert(ctx, a), storage.ErrDuplicateKey)
}

func TestAnnotationStore_Delete(t *testing.T) {
	store := NewAnnotationStore()
	ctx := context.Background()

	a := &domain.Annotation{ID: uuid.NewString(), Symbol: "BTCUSDT", Payload: json.RawMessage(`{}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Delete(ctx, a.ID))
	assert.ErrorIs(t, store.Delete(ctx, a.ID), storage.ErrNotFound)
}
