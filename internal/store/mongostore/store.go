// Package mongostore implements store.Store on MongoDB for deployments
// that run several server instances against one database.
//
// A TTL index on expiresAt lets the server reclaim expired messages in the
// background. Removal is only housekeeping: every read still filters on
// expiresAt because the TTL monitor runs about once a minute. The index
// lags the deadline by messageTTLGrace so the janitor normally purges a
// file message, and removes its object, before the monitor drops the row.
package mongostore

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/VinMeld/go-dm/internal/store"
)

const (
	messagesCollection   = "messages"
	readStatusCollection = "read_status"
	usersCollection      = "users"
)

type Config struct {
	URI      string
	Database string
	// ReadStatusTTL, when set, adds a TTL index on lastSeenAt.
	ReadStatusTTL time.Duration
	Logger        *slog.Logger
}

type Store struct {
	client     *mongo.Client
	messages   *mongo.Collection
	readStatus *mongo.Collection
	users      *mongo.Collection
	logger     *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongostore: uri and database are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongostore.Open.connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongostore.Open.ping")
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:     client,
		messages:   db.Collection(messagesCollection),
		readStatus: db.Collection(readStatusCollection),
		users:      db.Collection(usersCollection),
		logger:     logger,
	}
	if err := s.ensureIndexes(ctx, cfg.ReadStatusTTL); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("mongo store opened", "database", cfg.Database)
	return s, nil
}

const messageTTLGrace = time.Hour

func (s *Store) ensureIndexes(ctx context.Context, readStatusTTL time.Duration) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(messageTTLGrace / time.Second)),
		},
		{
			Keys:    bson.D{{Key: "file.storagePath", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return errors.Wrap(err, "mongostore.ensureIndexes.messages")
	}

	rsIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "viewerId", Value: 1}, {Key: "counterpartId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "counterpartId", Value: 1}}},
	}
	if readStatusTTL > 0 {
		rsIndexes = append(rsIndexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "lastSeenAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(readStatusTTL / time.Second)),
		})
	}
	if _, err := s.readStatus.Indexes().CreateMany(ctx, rsIndexes); err != nil {
		return errors.Wrap(err, "mongostore.ensureIndexes.readStatus")
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "mongostore.ensureIndexes.users")
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// visible matches documents whose deadline has not been reached.
func visible(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "expiresAt", Value: nil}},
		bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}}},
	}}}
}

// participant matches documents user sent or received.
func participant(user string) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "senderId", Value: user}},
		bson.D{{Key: "receiverId", Value: user}},
	}}}
}

func and(clauses ...bson.D) bson.D {
	arr := make(bson.A, len(clauses))
	for i, c := range clauses {
		arr[i] = c
	}
	return bson.D{{Key: "$and", Value: arr}}
}
