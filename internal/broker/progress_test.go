package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run broker progress tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestProgressLog(t *testing.T) *progressLog {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return newProgressLog(testRedisClient(t), log)
}

func TestPublishAssignsStrictlyMonotoneSeq(t *testing.T) {
	p := newTestProgressLog(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	t.Cleanup(func() { p.rdb.Del(ctx, streamKey(jobID), seqCounterKey(jobID)) })

	events := []types.ProgressEvent{
		{Phase: types.PhaseQueued, Detail: "queued"},
		{Phase: types.PhaseLoadingContext, Detail: "loading context"},
		{Phase: types.PhasePrompting, Detail: "prompting model"},
	}
	for i := range events {
		require.NoError(t, p.publish(ctx, jobID, events[i]))
	}

	seq, err := p.currentSeq(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)
}

func TestSubscribeReplaysBacklogFromSeq(t *testing.T) {
	p := newTestProgressLog(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	t.Cleanup(func() { p.rdb.Del(ctx, streamKey(jobID), seqCounterKey(jobID)) })

	require.NoError(t, p.publish(ctx, jobID, types.ProgressEvent{Phase: types.PhaseQueued, Detail: "queued"}))
	require.NoError(t, p.publish(ctx, jobID, types.ProgressEvent{Phase: types.PhaseLoadingContext, Detail: "loading context"}))
	require.NoError(t, p.publish(ctx, jobID, types.ProgressEvent{Phase: types.PhaseCompleted, Detail: "done"}))

	subCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	events, errc := p.subscribe(subCtx, jobID, 2)

	var seen []types.ProgressEvent
	for ev := range events {
		seen = append(seen, ev)
	}
	require.NoError(t, <-errc)

	require.Len(t, seen, 2)
	require.Equal(t, int64(2), seen[0].Seq)
	require.Equal(t, int64(3), seen[1].Seq)
	require.True(t, seen[1].Phase.Terminal())
}

func TestSubscribeTailsLiveEventsAfterBacklog(t *testing.T) {
	p := newTestProgressLog(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	t.Cleanup(func() { p.rdb.Del(ctx, streamKey(jobID), seqCounterKey(jobID)) })

	require.NoError(t, p.publish(ctx, jobID, types.ProgressEvent{Phase: types.PhaseQueued, Detail: "queued"}))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events, errc := p.subscribe(subCtx, jobID, 1)

	first := <-events
	require.Equal(t, int64(1), first.Seq)

	require.NoError(t, p.publish(ctx, jobID, types.ProgressEvent{Phase: types.PhaseCompleted, Detail: "done"}))

	second, ok := <-events
	require.True(t, ok)
	require.Equal(t, int64(2), second.Seq)
	require.True(t, second.Phase.Terminal())

	_, stillOpen := <-events
	require.False(t, stillOpen)
	require.NoError(t, <-errc)
}
