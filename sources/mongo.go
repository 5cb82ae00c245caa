package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource emits the full document of every insert, update and delete
// on a collection, read from its change stream, as relaxed extended JSON.
type MongoSource struct {
	uri        string
	database   string
	collection string

	client *mongo.Client
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewMongoSource(cfg SourceConfig) (*MongoSource, error) {
	if cfg.Config["uri"] == "" || cfg.Config["database"] == "" || cfg.Config["collection"] == "" {
		return nil, fmt.Errorf("error missing config values: uri, database and collection are required")
	}
	return &MongoSource{
		uri:        cfg.Config["uri"],
		database:   cfg.Config["database"],
		collection: cfg.Config["collection"],
		logger: log.With().
			Str("component", "mongo_source").
			Str("database", cfg.Config["database"]).
			Str("collection", cfg.Config["collection"]).
			Logger(),
	}, nil
}

// changePipeline filters the change stream down to document mutations.
func changePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{
			Key:   "operationType",
			Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "delete"}}},
		}}}},
	}
}

func (m *MongoSource) Open(ctx context.Context) (<-chan stream.Event, error) {
	m.logger.Trace().Msg("Connecting to mongodb...")
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	m.client = client

	coll := client.Database(m.database).Collection(m.collection)
	cs, err := coll.Watch(ctx, changePipeline(), options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("opening change stream: %w", err)
	}

	out := make(chan stream.Event, 64)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(out)
		defer cs.Close(context.Background())

		m.logger.Info().Msg("Waiting for change events")
		for cs.Next(ctx) {
			var change bson.M
			if err := cs.Decode(&change); err != nil {
				m.logger.Err(err).Msg("Error decoding change document")
				continue
			}
			event, err := changeEvent(change)
			if err != nil {
				m.logger.Err(err).Msg("Error converting change document")
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			m.logger.Err(err).Msg("Change stream failed")
		}
	}()
	return out, nil
}

// changeEvent turns a change document into a data event. The cluster time
// is used as event time when present.
func changeEvent(change bson.M) (*stream.DataEvent, error) {
	doc, ok := change["fullDocument"]
	if !ok || doc == nil {
		doc = bson.M{
			"operationType": change["operationType"],
			"documentKey":   change["documentKey"],
		}
	}
	value, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UnixMilli()
	if ct, ok := change["clusterTime"].(primitive.Timestamp); ok {
		ts = int64(ct.T) * 1000
	}
	return stream.NewDataEvent(value, ts), nil
}

func (m *MongoSource) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(context.Background())
	m.wg.Wait()
	return err
}
