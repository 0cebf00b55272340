package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elonfeng/socialpulse/pkg/record"
)

// MongoStore keeps records in one collection keyed by (external_id, source).
type MongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

// NewMongo connects, pings, and ensures the collection's indexes.
func NewMongo(ctx context.Context, uri, database, collection string, timeout time.Duration) (*MongoStore, error) {
	if uri == "" {
		return nil, &StoreUnavailableError{Backend: BackendMongo, Err: errors.New("no connection URI configured (set SOCIALPULSE_MONGO_URI)")}
	}
	if database == "" {
		database = "socialpulse"
	}
	if collection == "" {
		collection = "records"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, &StoreUnavailableError{Backend: BackendMongo, Err: fmt.Errorf("connect: %w", err)}
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &StoreUnavailableError{Backend: BackendMongo, Err: fmt.Errorf("ping: %w", err)}
	}

	s := newMongoStore(client.Database(database).Collection(collection), timeout)
	s.client = client
	if err := s.ensureIndexes(cctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func newMongoStore(coll *mongo.Collection, timeout time.Duration) *MongoStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MongoStore{coll: coll, timeout: timeout, now: time.Now}
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "external_id", Value: 1}, {Key: "source", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "source", Value: 1}}},
		{Keys: bson.D{{Key: "collected_at", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return s.classify(fmt.Errorf("create indexes: %w", err))
	}
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, set record.Set) (int, error) {
	stored := s.now().UTC()
	return upsertEach(ctx, set.Records, func(ctx context.Context, r record.Record) error {
		r.StoredAt = stored
		if r.Imputed == nil {
			r.Imputed = []string{}
		}

		wctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		var err error
		if r.HasID() {
			_, err = s.coll.UpdateOne(wctx,
				bson.M{"external_id": r.ID, "source": r.Source},
				bson.M{"$set": r},
				options.Update().SetUpsert(true))
		} else {
			_, err = s.coll.InsertOne(wctx, r)
		}
		if err != nil {
			return s.classify(err)
		}
		return nil
	})
}

func (s *MongoStore) Query(ctx context.Context, filter Filter) (record.Set, error) {
	q := bson.M{}
	if filter.Source != "" {
		q["source"] = filter.Source
	}
	if filter.Platform != "" {
		q["platform"] = filter.Platform
	}
	if !filter.Since.IsZero() {
		q["collected_at"] = bson.M{"$gte": filter.Since.UTC()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cursor, err := s.coll.Find(qctx, q, opts)
	if err != nil {
		return record.Set{}, s.classify(fmt.Errorf("find records: %w", err))
	}
	defer cursor.Close(qctx)

	var records []record.Record
	if err := cursor.All(qctx, &records); err != nil {
		return record.Set{}, fmt.Errorf("decode records: %w", err)
	}
	return record.Set{Records: records}, nil
}

func (s *MongoStore) Sources(ctx context.Context) (map[string]int, error) {
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$source"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}
	cursor, err := s.coll.Aggregate(qctx, pipeline)
	if err != nil {
		return nil, s.classify(fmt.Errorf("count records by source: %w", err))
	}
	defer cursor.Close(qctx)

	var groups []struct {
		Source string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(qctx, &groups); err != nil {
		return nil, fmt.Errorf("decode source counts: %w", err)
	}

	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		counts[g.Source] = g.Count
	}
	return counts, nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// classify marks connectivity failures as StoreUnavailableError.
func (s *MongoStore) classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return &StoreUnavailableError{Backend: BackendMongo, Err: err}
	}
	return err
}
