package cart

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Store{R: client, TTL: time.Hour}
}

func TestAddItemAccumulatesQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", Name: "Desk Lamp", UnitPrice: 4.99, Quantity: 1}))
	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", Name: "Desk Lamp", UnitPrice: 4.99, Quantity: 2}))
	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-2", Name: "Notebook", UnitPrice: 0.01}))

	snap, err := s.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	require.Equal(t, 3, snap.Items[0].Quantity)
	require.Equal(t, 1, snap.Items[1].Quantity)
	require.Equal(t, 14.98, snap.TotalAmount)
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", UnitPrice: 2.50, Quantity: 2}))
	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-2", UnitPrice: 1.00, Quantity: 1}))

	require.NoError(t, s.UpdateQuantity(ctx, "c1", "sku-1", 0))

	snap, err := s.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "sku-2", snap.Items[0].ID)
}

func TestRemoveAbsentItemIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", UnitPrice: 2.50, Quantity: 1}))
	require.NoError(t, s.RemoveItem(ctx, "c1", "sku-9"))

	snap, err := s.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
}

func TestClearEmptiesCart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", UnitPrice: 2.50, Quantity: 1}))
	require.NoError(t, s.Clear(ctx, "c1"))

	snap, err := s.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, snap.Items)
	require.Zero(t, snap.TotalAmount)
}

func TestSnapshotTotalRoundsToCents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 3 x 4.99 = 14.97; floating point must not drift the total.
	require.NoError(t, s.AddItem(ctx, "c1", Item{ID: "sku-1", UnitPrice: 4.99, Quantity: 3}))

	snap, err := s.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 14.97, snap.TotalAmount)
}
