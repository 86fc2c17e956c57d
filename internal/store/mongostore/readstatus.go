package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/VinMeld/go-dm/internal/models"
)

func pairFilter(viewer, counterpart string) bson.D {
	return bson.D{{Key: "viewerId", Value: viewer}, {Key: "counterpartId", Value: counterpart}}
}

// UpsertReadStatuses sends all rows as one ordered bulk write, so later
// rows for the same pair overwrite earlier ones.
func (s *Store) UpsertReadStatuses(ctx context.Context, rows []models.ReadStatus) error {
	if len(rows) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, len(rows))
	for i, r := range rows {
		writes[i] = mongo.NewUpdateOneModel().
			SetFilter(pairFilter(r.ViewerID, r.CounterpartID)).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{
				{Key: "lastSeenMessageId", Value: r.LastSeenMessageID},
				{Key: "lastSeenAt", Value: r.LastSeenAt},
			}}}).
			SetUpsert(true)
	}
	_, err := s.readStatus.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	return errors.Wrap(err, "mongoStore.UpsertReadStatuses.bulkWrite")
}

func (s *Store) ListReadStatuses(ctx context.Context, viewer string) ([]models.ReadStatus, error) {
	opts := options.Find().SetSort(bson.D{{Key: "counterpartId", Value: 1}})
	cursor, err := s.readStatus.Find(ctx, bson.D{{Key: "viewerId", Value: viewer}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListReadStatuses.find")
	}
	var docs []readStatusDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListReadStatuses.decode")
	}
	out := make([]models.ReadStatus, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *Store) DeleteReadStatus(ctx context.Context, viewer, counterpart string) error {
	_, err := s.readStatus.DeleteOne(ctx, pairFilter(viewer, counterpart))
	return errors.Wrap(err, "mongoStore.DeleteReadStatus.delete")
}

func (s *Store) DeleteUserReadStatuses(ctx context.Context, user string) (int, error) {
	res, err := s.readStatus.DeleteMany(ctx, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "viewerId", Value: user}},
		bson.D{{Key: "counterpartId", Value: user}},
	}}})
	if err != nil {
		return 0, errors.Wrap(err, "mongoStore.DeleteUserReadStatuses.delete")
	}
	return int(res.DeletedCount), nil
}

func (s *Store) PurgeReadStatuses(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.readStatus.DeleteMany(ctx, bson.D{{Key: "lastSeenAt", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, errors.Wrap(err, "mongoStore.PurgeReadStatuses.delete")
	}
	return int(res.DeletedCount), nil
}
