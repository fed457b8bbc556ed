package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"offlinecache/internal/core"
)

type namespaceDocument struct {
	Name      string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
	// Seq orders namespaces by creation with sub-millisecond precision.
	Seq int64 `bson:"seq"`
}

type entryDocument struct {
	ID         string    `bson:"_id"`
	Namespace  string    `bson:"namespace"`
	RequestKey string    `bson:"request_key"`
	Response   []byte    `bson:"response"`
	StoredAt   time.Time `bson:"stored_at"`
}

// MongoDBStorage stores namespaces and entries in two MongoDB collections.
type MongoDBStorage struct {
	namespaces *mongo.Collection
	entries    *mongo.Collection
	now        func() time.Time
}

// NewMongoDBStorage creates the cache collections' indexes if they don't exist.
func NewMongoDBStorage(database *mongo.Database) (*MongoDBStorage, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	s := &MongoDBStorage{
		namespaces: database.Collection("cache_namespaces"),
		entries:    database.Collection("cache_entries"),
		now:        time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "namespace", Value: 1}, {Key: "request_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "request_key", Value: 1}},
		},
	})
	if err != nil {
		// indexes may already exist
		slog.Warn("failed to create some MongoDB cache indexes", "error", err)
	}
	if _, err := s.namespaces.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: 1}},
	}); err != nil {
		slog.Warn("failed to create MongoDB namespace index", "error", err)
	}

	return s, nil
}

// Open returns the namespace, creating it on first use.
func (s *MongoDBStorage) Open(ctx context.Context, namespace string) (Cache, error) {
	if namespace == "" {
		return nil, core.NewInvalidRequestError("cache namespace is empty", nil)
	}

	now := s.now()
	_, err := s.namespaces.UpdateOne(ctx,
		bson.M{"_id": namespace},
		bson.M{"$setOnInsert": bson.M{"created_at": now.UTC(), "seq": now.UnixNano()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, core.NewStorageError("failed to open cache namespace", err)
	}
	return &mongoCache{storage: s, namespace: namespace}, nil
}

// Has reports whether the namespace exists.
func (s *MongoDBStorage) Has(ctx context.Context, namespace string) (bool, error) {
	n, err := s.namespaces.CountDocuments(ctx, bson.M{"_id": namespace})
	if err != nil {
		return false, core.NewStorageError("failed to look up cache namespace", err)
	}
	return n > 0, nil
}

// Match searches every namespace in creation order.
func (s *MongoDBStorage) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}

	cursor, err := s.entries.Find(ctx, bson.M{"request_key": req.Key()})
	if err != nil {
		return nil, core.NewStorageError("failed to query cache entries", err)
	}
	var docs []entryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, core.NewStorageError("failed to read cache entries", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) == 1 {
		return decodeEntryDocument(&docs[0])
	}

	byNamespace := make(map[string]*entryDocument, len(docs))
	for i := range docs {
		byNamespace[docs[i].Namespace] = &docs[i]
	}
	order, err := s.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, ns := range order {
		if doc, ok := byNamespace[ns]; ok {
			return decodeEntryDocument(doc)
		}
	}
	return nil, nil
}

// Namespaces lists namespace names in creation order.
func (s *MongoDBStorage) Namespaces(ctx context.Context) ([]string, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.namespaces.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache namespaces", err)
	}
	var docs []namespaceDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, core.NewStorageError("failed to read cache namespaces", err)
	}
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Name
	}
	return names, nil
}

// Close is a no-op; the client is managed by the storage layer.
func (s *MongoDBStorage) Close() error {
	return nil
}

type mongoCache struct {
	storage   *MongoDBStorage
	namespace string
}

func (c *mongoCache) Namespace() string {
	return c.namespace
}

func (c *mongoCache) Match(ctx context.Context, req *core.Request) (*core.Response, error) {
	if !req.Cacheable() {
		return nil, nil
	}
	var doc entryDocument
	err := c.storage.entries.FindOne(ctx, bson.M{"_id": hashKey(c.namespace, req.Key())}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, core.NewStorageError("failed to read cache entry", err)
	}
	return decodeEntryDocument(&doc)
}

func (c *mongoCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []Entry{{Request: req, Response: resp}})
}

// PutAll writes every entry in one ordered bulk upsert.
func (c *mongoCache) PutAll(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries); err != nil {
		return core.NewInvalidRequestError("invalid cache entries", err)
	}
	if len(entries) == 0 {
		return nil
	}

	now := c.storage.now()
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		resp := stamped(e.Response, now)
		data, err := encodeResponse(resp)
		if err != nil {
			return core.NewStorageError("failed to encode cache entry", err)
		}
		key := e.Request.Key()
		doc := entryDocument{
			ID:         hashKey(c.namespace, key),
			Namespace:  c.namespace,
			RequestKey: key,
			Response:   data,
			StoredAt:   resp.StoredAt,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := c.storage.entries.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return core.NewStorageError("failed to store cache entries", err)
	}
	return nil
}

func (c *mongoCache) Keys(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"request_key": 1}).
		SetSort(bson.D{{Key: "request_key", Value: 1}})
	cursor, err := c.storage.entries.Find(ctx, bson.M{"namespace": c.namespace}, opts)
	if err != nil {
		return nil, core.NewStorageError("failed to list cache keys", err)
	}
	var docs []entryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, core.NewStorageError("failed to read cache keys", err)
	}
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.RequestKey
	}
	return keys, nil
}

func decodeEntryDocument(doc *entryDocument) (*core.Response, error) {
	resp, err := decodeResponse(doc.Response)
	if err != nil {
		return nil, core.NewStorageError("failed to decode cache entry", err)
	}
	return resp, nil
}
