package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// progressLog is an append-only per-job event log backed by a Redis
// Stream, rather than a bare pub/sub forwarder with no replay: the stream
// itself is the durable record a late subscriber can page through with
// XRANGE before tailing live entries with XREAD BLOCK.
type progressLog struct {
	rdb *redis.Client
	log *logger.Logger
}

func newProgressLog(rdb *redis.Client, log *logger.Logger) *progressLog {
	return &progressLog{rdb: rdb, log: log.With("component", "ProgressLog")}
}

func streamKey(jobID string) string { return "progress:" + jobID }
func seqCounterKey(jobID string) string { return "progress_seq:" + jobID }

func (p *progressLog) publish(ctx context.Context, jobID string, event types.ProgressEvent) error {
	seq, err := p.rdb.Incr(ctx, seqCounterKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("broker: assign progress seq: %w", err)
	}
	event.Seq = seq
	if event.At.IsZero() {
		event.At = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broker: marshal progress event: %w", err)
	}
	_, err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(jobID),
		Values: map[string]interface{}{"seq": seq, "payload": string(payload)},
	}).Result()
	if err != nil {
		return fmt.Errorf("broker: publish progress: %w", err)
	}
	return nil
}

// subscribe replays every event with seq >= fromSeq from the stream, then
// blocks for newly appended entries until a terminal event is observed or
// ctx is canceled. The returned error channel carries at most one error
// and is closed alongside the event channel.
func (p *progressLog) subscribe(ctx context.Context, jobID string, fromSeq int64) (<-chan types.ProgressEvent, <-chan error) {
	events := make(chan types.ProgressEvent, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		lastID := "0"

		backlog, err := p.rdb.XRange(ctx, streamKey(jobID), "-", "+").Result()
		if err != nil && err != redis.Nil {
			errc <- fmt.Errorf("broker: read progress backlog: %w", err)
			return
		}
		for _, msg := range backlog {
			ev, ok := decodeProgressMessage(msg)
			if !ok {
				continue
			}
			lastID = msg.ID
			if ev.Seq < fromSeq {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Phase.Terminal() {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			res, err := p.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey(jobID), lastID},
				Block:   5 * time.Second,
				Count:   32,
			}).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errc <- fmt.Errorf("broker: tail progress stream: %w", err)
				return
			}
			for _, stream := range res {
				for _, msg := range stream.Messages {
					ev, ok := decodeProgressMessage(msg)
					if !ok {
						continue
					}
					lastID = msg.ID
					if ev.Seq < fromSeq {
						continue
					}
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
					if ev.Phase.Terminal() {
						return
					}
				}
			}
		}
	}()

	return events, errc
}

func decodeProgressMessage(msg redis.XMessage) (types.ProgressEvent, bool) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return types.ProgressEvent{}, false
	}
	var ev types.ProgressEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return types.ProgressEvent{}, false
	}
	return ev, true
}

// currentSeq is used by tests to learn where a job's progress cursor last
// stood without subscribing.
func (p *progressLog) currentSeq(ctx context.Context, jobID string) (int64, error) {
	val, err := p.rdb.Get(ctx, seqCounterKey(jobID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
