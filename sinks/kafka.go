package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces one record per event to a topic.
type KafkaSink struct {
	bootstrapServers string
	topic            string

	client *kgo.Client
	logger zerolog.Logger
}

func NewKafkaSink(cfg SinkConfig) (*KafkaSink, error) {
	if cfg.Config["bootstrap_servers"] == "" || cfg.Config["topic"] == "" {
		return nil, fmt.Errorf("error missing config values: bootstrap_servers and topic are required")
	}
	return &KafkaSink{
		bootstrapServers: cfg.Config["bootstrap_servers"],
		topic:            cfg.Config["topic"],
		logger:           log.With().Str("component", "kafka_sink").Str("topic", cfg.Config["topic"]).Logger(),
	}, nil
}

func (k *KafkaSink) Open(ctx context.Context) error {
	k.logger.Trace().Msg("Connecting to kafka cluster as a sink...")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.bootstrapServers),
		kgo.DefaultProduceTopic(k.topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return fmt.Errorf("creating kafka producer: %w", err)
	}
	k.client = client
	return nil
}

// Write produces synchronously so a failure is reported for the event
// that caused it.
func (k *KafkaSink) Write(ctx context.Context, event *stream.DataEvent) error {
	value, err := encode(event.Value)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	record := &kgo.Record{Value: value}
	if event.EventTime > 0 {
		record.Timestamp = time.UnixMilli(event.EventTime)
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("record had a produce error: %w", err)
	}
	k.logger.Trace().Int("bytes", len(value)).Msg("Successfully produced message")
	return nil
}

func (k *KafkaSink) Close() error {
	if k.client != nil {
		k.client.Close()
	}
	return nil
}
