package txstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/refilld/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refill.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.CreateTransaction(ctx, "E200001D8914005717701BFC", "FL-1", 0, 120.5)
	require.NoError(t, err)
	assert.NotZero(t, tx.ID)
	assert.Equal(t, model.StatusInitiated, tx.Status)

	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Tag, got.Tag)
	assert.Equal(t, "FL-1", got.FleetNumber)
}

func TestStore_UpdateLitersMarksInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.CreateTransaction(ctx, "TAG", "FL-2", 0, 10)
	require.NoError(t, err)

	require.NoError(t, s.UpdateLiters(ctx, tx.ID, liters("4.100")))
	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.Equal(t, liters("4.100"), got.DispensedLiters)
}

func TestStore_AddDispensedMarksCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.CreateTransaction(ctx, "TAG", "FL-3", 0, 10)
	require.NoError(t, err)

	require.NoError(t, s.AddDispensed(ctx, tx.ID, liters("12.300")))
	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, liters("12.300"), got.DispensedLiters)
}

func TestStore_DeleteTransactionRemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.CreateTransaction(ctx, "TAG", "FL-4", 0, 10)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))
	_, err = s.Get(ctx, tx.ID)
	assert.Error(t, err)
}

func TestStore_FlagNeedsReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.CreateTransaction(ctx, "TAG", "FL-5", 0, 10)
	require.NoError(t, err)

	require.NoError(t, s.FlagNeedsReview(ctx, tx.ID, "store write failed"))
	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, got.Status)
}

func liters(s string) model.Liters {
	l, err := model.ParseLiters(s)
	if err != nil {
		panic(err)
	}
	return l
}
