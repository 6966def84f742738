package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func TestTimelineRepository_AppendListChronological(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "P1", Type: domain.TimelineOrderStatusChanged, Occurred: now}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "P1", Type: domain.TimelineOrderCreated, Occurred: now.Add(-time.Minute)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "P2", Type: domain.TimelineOrderCreated, Occurred: now}))

	events, err := repo.List(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, domain.TimelineOrderStatusChanged, events[1].Type)

	empty, err := repo.List(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}
