package mongostore

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

func (s *Store) AddUser(ctx context.Context, user models.User) error {
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: user.ID}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "username", Value: user.Username}}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: user.CreatedAt}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "mongoStore.AddUser.upsert")
}

func (s *Store) GetUser(ctx context.Context, ref string) (models.User, error) {
	for _, key := range []string{"_id", "username"} {
		var doc userDoc
		err := s.users.FindOne(ctx, bson.D{{Key: key, Value: ref}}).Decode(&doc)
		if err == nil {
			return doc.toModel(), nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, errors.Wrap(err, "mongoStore.GetUser.find")
		}
	}
	return models.User{}, store.ErrNotFound
}

func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := s.users.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.LookupUsers.find")
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.LookupUsers.decode")
	}
	for _, d := range docs {
		out[d.ID] = d.toModel()
	}
	return out, nil
}

func (s *Store) ListAllUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := s.users.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListAllUsers.find")
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListAllUsers.decode")
	}
	out := make([]models.User, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return errors.Wrap(err, "mongoStore.DeleteUser.delete")
}
