package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSource consumes a topic as a consumer group member. Record values
// are emitted as []byte with the record timestamp as event time.
type KafkaSource struct {
	name             string
	bootstrapServers string
	consumerGroup    string
	topic            string

	client *kgo.Client
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewKafkaSource(cfg SourceConfig) (*KafkaSource, error) {
	if cfg.Config["bootstrap_servers"] == "" || cfg.Config["group"] == "" || cfg.Config["topic"] == "" {
		return nil, fmt.Errorf("error missing config values: bootstrap_servers, group and topic are required")
	}
	return &KafkaSource{
		name:             cfg.Name,
		bootstrapServers: cfg.Config["bootstrap_servers"],
		consumerGroup:    cfg.Config["group"],
		topic:            cfg.Config["topic"],
		logger:           log.With().Str("component", "kafka_source").Str("topic", cfg.Config["topic"]).Logger(),
	}, nil
}

func (k *KafkaSource) Open(ctx context.Context) (<-chan stream.Event, error) {
	k.logger.Trace().Msg("Connecting to kafka cluster as a source...")
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.bootstrapServers),
		kgo.ConsumerGroup(k.consumerGroup),
		kgo.ConsumeTopics(k.topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka consumer: %w", err)
	}
	k.client = client

	out := make(chan stream.Event, 64)
	k.wg.Add(1)
	go k.poll(ctx, out)
	return out, nil
}

func (k *KafkaSource) poll(ctx context.Context, out chan<- stream.Event) {
	defer k.wg.Done()
	defer close(out)

	var seen int
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			k.logger.Debug().Int("records", seen).Msg("Done reading from the kafka source")
			return
		}
		fetches.EachError(func(t string, p int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			k.logger.Err(err).Str("topic", t).Int32("partition", p).Msg("fetch error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			seen++
			event := stream.NewDataEvent(record.Value, record.Timestamp.UnixMilli())
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (k *KafkaSource) Close() error {
	if k.client != nil {
		k.client.Close()
	}
	k.wg.Wait()
	return nil
}
