// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/logging"
)

// pollMaxWait caps how long a single poll blocks when the log is idle.
const pollMaxWait = time.Second

// KafkaConsumer implements Log over a franz-go consumer-group client
// with auto-commit disabled.
type KafkaConsumer struct {
	client  *kgo.Client
	maxPoll int
}

// NewKafkaConsumer connects to the brokers and joins the consumer group.
// A failure here is fatal to startup.
func NewKafkaConsumer(ctx context.Context, cfg config.KafkaConfig) (*KafkaConsumer, error) {
	reset := kgo.NewOffset().AtStart()
	if cfg.AutoOffsetReset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.BootstrapServers, ",")...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.FetchMaxWait(pollMaxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping brokers: %w", err)
	}

	logging.Info().
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Str("brokers", cfg.BootstrapServers).
		Msg("Consumer joined group")

	return &KafkaConsumer{client: client, maxPoll: cfg.MaxPollRecords}, nil
}

// Poll fetches up to max_poll_records, blocking at most the poll wait.
// PollRecords blocks until records arrive, so the wait is enforced with
// a derived deadline; an idle log returns an empty slice rather than
// parking the caller, keeping its interval-based flush alive.
func (c *KafkaConsumer) Poll(ctx context.Context) ([]*Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollMaxWait)
	defer cancel()

	return collectRecords(ctx, c.client.PollRecords(pollCtx, c.maxPoll))
}

// collectRecords translates one fetch result. An expired poll deadline
// with a live parent context is an idle poll, not an error.
func collectRecords(ctx context.Context, fetches kgo.Fetches) ([]*Record, error) {
	if fetches.IsClientClosed() {
		return nil, errors.New("consumer closed")
	}

	var ctxErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			ctxErr = err
			return
		}
		// Per-partition fetch errors are logged; healthy partitions in
		// the same fetch still deliver.
		logging.Error().Err(err).
			Str("topic", topic).
			Int32("partition", partition).
			Msg("Fetch error")
	})

	records := make([]*Record, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, &Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
		})
	})

	if len(records) == 0 && ctxErr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return records, nil
}

// Commit commits all consumed-but-uncommitted offsets.
func (c *KafkaConsumer) Commit(ctx context.Context) error {
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Rewind seeks each partition back to the earliest offset present in
// records, so an aborted batch is polled again.
func (c *KafkaConsumer) Rewind(records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	starts := make(map[string]map[int32]kgo.EpochOffset)
	for _, r := range records {
		parts, ok := starts[r.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			starts[r.Topic] = parts
		}
		if cur, ok := parts[r.Partition]; !ok || r.Offset < cur.Offset {
			parts[r.Partition] = kgo.EpochOffset{Epoch: -1, Offset: r.Offset}
		}
	}

	c.client.SetOffsets(starts)

	logging.Warn().Int("records", len(records)).Msg("Consumer rewound to batch start")
	return nil
}

// Close leaves the group and releases the client.
func (c *KafkaConsumer) Close() {
	c.client.Close()
}
