package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/metergate/pkg/metergate"
	"github.com/scribehub/metergate/storage/memory"
)

func TestStore_GetCount_MissingKey(t *testing.T) {
	store := memory.New()

	count, found, err := store.GetCount(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, count)
}

func TestStore_Increment(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	n, err := store.Increment(ctx, "k", expires)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Increment(ctx, "k", expires)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, found, err := store.GetCount(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), count)
}

func TestStore_Increment_Concurrent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := store.Increment(ctx, "k", expires)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, _, err := store.GetCount(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), count)
}

func TestStore_DeleteExpired(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()

	_, err := store.Increment(ctx, "old", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Increment(ctx, "live", now.Add(time.Minute))
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err := store.GetCount(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.GetCount(ctx, "live")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_GetMonthlyUsage_Absent(t *testing.T) {
	store := memory.New()

	row, err := store.GetMonthlyUsage(context.Background(), "u1", metergate.MonthOf(time.Now()))
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStore_IncrementUsage(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	month := metergate.MonthOf(time.Now())

	row, err := store.IncrementUsage(ctx, "u1", month, metergate.FeatureContent, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, row.ContentGenerated)

	row, err = store.IncrementUsage(ctx, "u1", month, metergate.FeatureSentiment, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, row.ContentGenerated)
	assert.Equal(t, 1, row.SentimentUsed)
	assert.False(t, row.UpdatedAt.IsZero())
}

func TestStore_IncrementUsage_NegativeDelta(t *testing.T) {
	store := memory.New()

	_, err := store.IncrementUsage(context.Background(), "u1", metergate.MonthOf(time.Now()), metergate.FeatureContent, -1)
	assert.ErrorIs(t, err, metergate.ErrInvalidAmount)
}

func TestStore_IncrementUsage_MonthsAreSeparate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.IncrementUsage(ctx, "u1", march, metergate.FeatureContent, 5)
	require.NoError(t, err)

	row, err := store.GetMonthlyUsage(ctx, "u1", april)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStore_GetMonthlyUsage_ReturnsCopy(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	month := metergate.MonthOf(time.Now())

	_, err := store.IncrementUsage(ctx, "u1", month, metergate.FeatureContent, 1)
	require.NoError(t, err)

	row, err := store.GetMonthlyUsage(ctx, "u1", month)
	require.NoError(t, err)
	row.ContentGenerated = 999

	fresh, err := store.GetMonthlyUsage(ctx, "u1", month)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.ContentGenerated)
}

func TestStore_ListPlans_DefaultCatalog(t *testing.T) {
	store := memory.New()

	plans, err := store.ListPlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 4)
}

func TestStore_SetPlans(t *testing.T) {
	store := memory.New()

	store.SetPlans([]metergate.Plan{{ID: "only", Name: "Only"}})

	plans, err := store.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "only", plans[0].ID)
}

func TestStore_Clear(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = store.IncrementUsage(ctx, "u1", metergate.MonthOf(time.Now()), metergate.FeatureContent, 1)
	require.NoError(t, err)

	store.Clear()

	_, found, err := store.GetCount(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	row, err := store.GetMonthlyUsage(ctx, "u1", metergate.MonthOf(time.Now()))
	require.NoError(t, err)
	assert.Nil(t, row)
}
