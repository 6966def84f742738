package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func newOrder(productID string) domain.Order {
	return domain.Order{
		ProductID: productID,
		Status:    domain.OrderStatusPending,
		Address:   "Unit 5",
		CreatedAt: time.Now().UTC(),
	}
}

func strPtr(s string) *string { return &s }

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("P1")

	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{order}))

	stored, err := repo.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, order, stored)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_CreateDuplicateProductID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{newOrder("P1")}))
	err := repo.CreateBatch(ctx, []domain.Order{newOrder("P1")})
	require.ErrorIs(t, err, domain.ErrProductIDConflict)

	all, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOrderRepository_CreateBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{newOrder("P0")}))

	err := repo.CreateBatch(ctx, []domain.Order{newOrder("P1"), newOrder("P2"), newOrder("P0")})
	require.ErrorIs(t, err, domain.ErrProductIDConflict)

	all, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "P0", all[0].ProductID)
}

func TestOrderRepository_CreateBatchDuplicateInsideBatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	a := newOrder("A")
	a.OrderNo = strPtr("ORD-1")
	b := newOrder("B")
	b.OrderNo = strPtr("ORD-1")

	require.ErrorIs(t, repo.CreateBatch(ctx, []domain.Order{a, b}), domain.ErrOrderNoConflict)
	require.ErrorIs(t, repo.CreateBatch(ctx, []domain.Order{newOrder("C"), newOrder("C")}), domain.ErrProductIDConflict)

	all, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOrderRepository_ListPaginationAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	orders := make([]domain.Order, 0, 25)
	for i := 25; i >= 1; i-- {
		order := newOrder(fmt.Sprintf("P%02d", i))
		if i%5 == 0 {
			order.Status = domain.OrderStatusShipped
		}
		orders = append(orders, order)
	}
	require.NoError(t, repo.CreateBatch(ctx, orders))

	page, err := repo.List(ctx, domain.ListFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	require.Len(t, page, 10)
	for i, order := range page {
		require.Equal(t, fmt.Sprintf("P%02d", i+11), order.ProductID)
	}

	shipped, err := repo.List(ctx, domain.ListFilter{Status: domain.OrderStatusShipped, Limit: 100})
	require.NoError(t, err)
	require.Len(t, shipped, 5)
	require.Equal(t, "P05", shipped[0].ProductID)

	beyond, err := repo.List(ctx, domain.ListFilter{Limit: 10, Offset: 30})
	require.NoError(t, err)
	require.NotNil(t, beyond)
	require.Empty(t, beyond)
}

func TestOrderRepository_UpdateBatchPerItemOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	a := newOrder("A")
	a.OrderNo = strPtr("ORD-A")
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{a, newOrder("B")}))

	shipped := domain.OrderStatusShipped
	outcomes, err := repo.UpdateBatch(ctx, []domain.OrderPatch{
		{ProductID: "B", Status: &shipped},
		{ProductID: "missing", Status: &shipped},
		{ProductID: "B", OrderNo: strPtr("ORD-A")},
	}, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	require.NoError(t, outcomes[0].Err)
	require.Equal(t, domain.OrderStatusPending, outcomes[0].Previous.Status)
	require.Equal(t, domain.OrderStatusShipped, outcomes[0].Updated.Status)
	require.ErrorIs(t, outcomes[1].Err, domain.ErrOrderNotFound)
	require.ErrorIs(t, outcomes[2].Err, domain.ErrOrderNoConflict)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	b, err := repo.Get(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, b.Status)
	require.Nil(t, b.OrderNo)
}

func TestOrderRepository_UpdateBatchReleasesOrderNo(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	a := newOrder("A")
	a.OrderNo = strPtr("ORD-1")
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{a, newOrder("B")}))

	outcomes, err := repo.UpdateBatch(ctx, []domain.OrderPatch{
		{ProductID: "A", OrderNo: strPtr("")},
		{ProductID: "B", OrderNo: strPtr("ORD-1")},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)

	b, err := repo.Get(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, "ORD-1", domain.StringValue(b.OrderNo))
}

func TestOrderRepository_UpdateBatchGuard(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{newOrder("A")}))

	completed := domain.OrderStatusCompleted
	guard := func(current domain.Order, patch domain.OrderPatch) error {
		return domain.CheckTransition(domain.MonotonicPolicy{}, current, patch)
	}
	outcomes, err := repo.UpdateBatch(ctx, []domain.OrderPatch{{ProductID: "A", Status: &completed}}, guard)
	require.NoError(t, err)
	require.ErrorIs(t, outcomes[0].Err, domain.ErrStatusTransition)

	stored, err := repo.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	order := newOrder("P1")
	order.OrderNo = strPtr("ORD-1")
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{order}))

	deleted, err := repo.Delete(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "P1", deleted.ProductID)

	_, err = repo.Get(ctx, "P1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.Delete(ctx, "P1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	// order_no освобождается вместе с заказом
	reuse := newOrder("P2")
	reuse.OrderNo = strPtr("ORD-1")
	require.NoError(t, repo.CreateBatch(ctx, []domain.Order{reuse}))
}
