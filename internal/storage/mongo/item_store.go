// Package mongo provides a MongoDB-backed processed-item store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Config controls the MongoDB connection.
type Config struct {
	URI         string        `mapstructure:"uri"`
	Database    string        `mapstructure:"database"`
	Collection  string        `mapstructure:"collection"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxPoolSize uint64        `mapstructure:"max_pool_size"`
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "harvester"
	}
	if c.Collection == "" {
		c.Collection = "items"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// document is the stored shape: indexed fields plus the full item.
type document struct {
	ID          string                `bson:"_id"`
	SourceID    string                `bson:"source_id"`
	Fingerprint string                `bson:"fingerprint"`
	Category    string                `bson:"category"`
	Decision    string                `bson:"decision"`
	ProcessedAt time.Time             `bson:"processed_at"`
	Item        harvest.ProcessedItem `bson:"item"`
}

// ItemStore persists processed items in a MongoDB collection.
type ItemStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewItemStore connects to MongoDB and ensures the lookup indexes.
func NewItemStore(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("storage.mongo.uri is required")
	}
	cfg.applyDefaults()

	opts := options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout)
	if cfg.MaxPoolSize > 0 {
		opts = opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_id", Value: 1}, {Key: "fingerprint", Value: 1}}},
		{Keys: bson.D{{Key: "decision", Value: 1}, {Key: "category", Value: 1}, {Key: "processed_at", Value: -1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create item indexes: %w", err)
	}
	return &ItemStore{client: client, collection: collection}, nil
}

// Close disconnects the client.
func (s *ItemStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	return nil
}

// PutItem upserts a processed item.
func (s *ItemStore) PutItem(ctx context.Context, item harvest.ProcessedItem) error {
	doc := document{
		ID:          item.ID,
		SourceID:    item.Raw.SourceID,
		Fingerprint: item.Fingerprint,
		Category:    item.Raw.Category,
		Decision:    string(item.Decision),
		ProcessedAt: item.ProcessedAt,
		Item:        item,
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": item.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// GetItem fetches one item by ID.
func (s *ItemStore) GetItem(ctx context.Context, id string) (harvest.ProcessedItem, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return harvest.ProcessedItem{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.ProcessedItem{}, fmt.Errorf("get item: %w", err)
	}
	return doc.Item, nil
}

// FindByFingerprint returns items from the source with the same
// content fingerprint.
func (s *ItemStore) FindByFingerprint(ctx context.Context, sourceID, fingerprint string) ([]harvest.ProcessedItem, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"source_id": sourceID, "fingerprint": fingerprint},
		options.Find().SetSort(bson.D{{Key: "processed_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return collect(ctx, cursor)
}

// RecentAccepted returns the latest accepted items, optionally limited
// to one category.
func (s *ItemStore) RecentAccepted(ctx context.Context, category string, limit int) ([]harvest.ProcessedItem, error) {
	filter := bson.M{"decision": string(harvest.DecisionAccept)}
	if category != "" {
		filter["category"] = category
	}
	opts := options.Find().SetSort(bson.D{{Key: "processed_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("recent accepted: %w", err)
	}
	return collect(ctx, cursor)
}

func collect(ctx context.Context, cursor *mongo.Cursor) ([]harvest.ProcessedItem, error) {
	defer cursor.Close(ctx)
	var items []harvest.ProcessedItem
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, doc.Item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
