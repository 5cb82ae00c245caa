package sinks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
)

const defaultElasticRetries = 3

// ElasticSink indexes every event as a document. Transient failures are
// retried with exponential backoff; 4xx responses are not.
type ElasticSink struct {
	cloudID    string
	addresses  []string
	apiKey     string
	index      string
	maxRetries uint64

	client *elasticsearch.Client
	logger zerolog.Logger
}

func NewElasticSink(cfg SinkConfig) (*ElasticSink, error) {
	if cfg.Config["index_name"] == "" {
		return nil, fmt.Errorf("missing index_name")
	}
	if cfg.Config["cloud_id"] == "" && cfg.Config["url"] == "" {
		return nil, fmt.Errorf("one of cloud_id or url is required")
	}
	e := &ElasticSink{
		cloudID:    cfg.Config["cloud_id"],
		apiKey:     cfg.Config["api_key"],
		index:      cfg.Config["index_name"],
		maxRetries: defaultElasticRetries,
		logger:     log.With().Str("component", "elastic_sink").Str("index", cfg.Config["index_name"]).Logger(),
	}
	if u := cfg.Config["url"]; u != "" {
		e.addresses = strings.Split(u, ",")
	}
	if v := cfg.Config["max_retries"]; v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid max_retries %q: %w", v, err)
		}
		e.maxRetries = n
	}
	return e, nil
}

func (e *ElasticSink) Open(ctx context.Context) error {
	e.logger.Trace().Msg("Connecting to elasticsearch...")
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		CloudID:      e.cloudID,
		Addresses:    e.addresses,
		APIKey:       e.apiKey,
		DisableRetry: true,
	})
	if err != nil {
		return fmt.Errorf("creating elasticsearch client: %w", err)
	}
	e.client = client
	return nil
}

func (e *ElasticSink) Write(ctx context.Context, event *stream.DataEvent) error {
	body, err := encode(event.Value)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	op := func() error {
		req := esapi.IndexRequest{
			Index: e.index,
			Body:  bytes.NewReader(body),
		}
		res, err := req.Do(ctx, e.client)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if !res.IsError() {
			return nil
		}
		err = fmt.Errorf("[%s] error indexing document", res.Status())
		if res.StatusCode >= http.StatusBadRequest && res.StatusCode < http.StatusInternalServerError && res.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	notify := func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Dur("wait", wait).Msg("Retrying index request")
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx), notify)
}

func (e *ElasticSink) Close() error {
	e.logger.Debug().Msg("Closing elasticsearch sink")
	return nil
}
