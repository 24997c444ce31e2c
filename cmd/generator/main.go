// Engagestream - Real-Time Engagement Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/engagestream

// Package main is the load generator. It reads the content catalogue
// from Postgres and publishes synthetic engagement events to Kafka at a
// configurable rate, capped per UTC day. Records are keyed by content
// id so one content's events stay in partition order.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tomtom215/engagestream/internal/config"
	"github.com/tomtom215/engagestream/internal/database"
	"github.com/tomtom215/engagestream/internal/logging"
	"github.com/tomtom215/engagestream/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Generator exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Generator stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	catalogue, err := database.ListContent(ctx, pool)
	if err != nil {
		return err
	}
	if len(catalogue) == 0 {
		logging.Fatal().Msg("Content catalogue is empty; seed it before generating events")
	}

	client, err := newProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	defer client.Close()

	gen := newGenerator(catalogue, cfg.Generator.EventsPerBatch, cfg.Generator.MaxEventsPerDay, time.Now().UnixNano())

	logging.Info().
		Str("topic", cfg.Kafka.Topic).
		Int("catalogue", len(catalogue)).
		Dur("interval", cfg.Generator.Interval).
		Int("per_batch", cfg.Generator.EventsPerBatch).
		Msg("Generator publishing")

	ticker := time.NewTicker(cfg.Generator.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Deliver what is still queued in the producer.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Flush(flushCtx); err != nil {
				logging.Error().Err(err).Msg("Producer flush failed")
			}
			return ctx.Err()

		case now := <-ticker.C:
			events := gen.emit(now)
			if len(events) == 0 {
				logging.Debug().Msg("Daily cap reached; idling until midnight UTC")
				continue
			}
			publish(ctx, client, cfg.Kafka.Topic, events)
		}
	}
}

// newProducer builds the Kafka producer honouring the configured acks,
// retries, batch size and linger.
func newProducer(cfg config.KafkaConfig) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.BootstrapServers, ",")...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordRetries(cfg.Producer.Retries),
		kgo.ProducerBatchMaxBytes(int32(cfg.Producer.BatchBytes)),
		kgo.ProducerLinger(cfg.Producer.Linger),
	}

	switch cfg.Producer.Acks {
	case "all":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case "leader":
		// Idempotency needs acks=all; weaker acks disable it.
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	}

	return kgo.NewClient(opts...)
}

func publish(ctx context.Context, client *kgo.Client, topic string, events []*models.RawEvent) {
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			logging.Error().Err(err).Int64("event_id", e.ID).Msg("Event marshal failed")
			continue
		}

		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(e.ContentID.String()),
			Value: value,
		}
		client.Produce(ctx, record, func(r *kgo.Record, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("Produce failed")
			}
		})
	}

	logging.Debug().Int("events", len(events)).Msg("Batch published")
}
