package mongostore

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/VinMeld/go-dm/internal/expiry"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

// mutuallySaved is the aggregation expression for "both flags set".
var mutuallySaved = bson.D{{Key: "$and", Value: bson.A{"$savedBySender", "$savedByReceiver"}}}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.messages.InsertOne(ctx, toMessageDoc(m))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "mongoStore.CreateMessage.insert")
}

func (s *Store) findVisible(ctx context.Context, id string, now time.Time) (*models.Message, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx, and(bson.D{{Key: "_id", Value: id}}, visible(now))).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *Store) GetMessage(ctx context.Context, id string, now time.Time) (*models.Message, error) {
	m, err := s.findVisible(ctx, id, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m, errors.Wrap(err, "mongoStore.GetMessage.find")
}

func (s *Store) ListConversation(ctx context.Context, a, b string, now time.Time, w store.Window) ([]*models.Message, error) {
	w = w.Normalize()
	pair := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "senderId", Value: a}, {Key: "receiverId", Value: b}},
		bson.D{{Key: "senderId", Value: b}, {Key: "receiverId", Value: a}},
	}}}
	clauses := []bson.D{pair, visible(now)}
	if !w.Before.IsZero() {
		clauses = append(clauses, bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: w.Before}}}})
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(w.Limit))
	cursor, err := s.messages.Find(ctx, and(clauses...), opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListConversation.find")
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.ListConversation.decode")
	}

	out := make([]*models.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = d.toModel()
	}
	return out, nil
}

func (s *Store) LastPerCounterpart(ctx context.Context, user string, now time.Time) (map[string]*models.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: and(participant(user), visible(now))}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$senderId", user}}}, "$receiverId", "$senderId",
			}}}},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
	}
	cursor, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.LastPerCounterpart.aggregate")
	}
	var rows []struct {
		Counterpart string     `bson:"_id"`
		Doc         messageDoc `bson:"doc"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "mongoStore.LastPerCounterpart.decode")
	}

	out := make(map[string]*models.Message, len(rows))
	for _, r := range rows {
		out[r.Counterpart] = r.Doc.toModel()
	}
	return out, nil
}

// MarkSeen is one conditional update: it only matches an unseen, visible
// message addressed to viewer. On no match the current document tells us
// why.
func (s *Store) FileReferenced(ctx context.Context, storagePath string, now time.Time) (bool, error) {
	filter := and(
		bson.D{{Key: "kind", Value: string(models.KindFile)}, {Key: "file.storagePath", Value: storagePath}},
		visible(now),
	)
	n, err := s.messages.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "mongoStore.FileReferenced.count")
	}
	return n > 0, nil
}

func (s *Store) MarkSeen(ctx context.Context, id, viewer string, now time.Time) (*models.Message, bool, error) {
	filter := and(
		bson.D{{Key: "_id", Value: id}, {Key: "receiverId", Value: viewer}, {Key: "isSeen", Value: false}},
		visible(now),
	)
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "isSeen", Value: true},
			{Key: "seenAt", Value: now},
			{Key: "expiresAt", Value: bson.D{{Key: "$cond", Value: bson.A{
				mutuallySaved, nil, expiry.Deadline(now),
			}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc messageDoc
	err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, errors.Wrap(err, "mongoStore.MarkSeen.update")
	}

	m, err := s.findVisible(ctx, id, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, errors.Wrap(err, "mongoStore.MarkSeen.find")
	}
	if m.ReceiverID != viewer {
		return nil, false, store.ErrNotRecipient
	}
	return m, false, nil
}

// SetSaved flips the actor's flag and clears the deadline on a mutual save,
// in a single pipeline update.
func (s *Store) SetSaved(ctx context.Context, id, actor string, saved bool, now time.Time) (*models.Message, error) {
	filter := and(bson.D{{Key: "_id", Value: id}}, participant(actor), visible(now))
	flag := func(field, side string) bson.E {
		return bson.E{Key: field, Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{side, actor}}}, saved, "$" + field,
		}}}}
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			flag("savedBySender", "$senderId"),
			flag("savedByReceiver", "$receiverId"),
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "expiresAt", Value: bson.D{{Key: "$cond", Value: bson.A{
				mutuallySaved, nil, "$expiresAt",
			}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc messageDoc
	err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(err, "mongoStore.SetSaved.update")
	}
	if _, err := s.findVisible(ctx, id, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "mongoStore.SetSaved.find")
	}
	return nil, store.ErrNotParticipant
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.messages.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return errors.Wrap(err, "mongoStore.DeleteMessage.delete")
}

func (s *Store) DeleteUserMessages(ctx context.Context, user string) (store.CascadeResult, error) {
	var res store.CascadeResult
	opts := options.Find().SetProjection(bson.D{
		{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "file", Value: 1},
	})
	cursor, err := s.messages.Find(ctx, participant(user), opts)
	if err != nil {
		return res, errors.Wrap(err, "mongoStore.DeleteUserMessages.find")
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return res, errors.Wrap(err, "mongoStore.DeleteUserMessages.decode")
	}

	counterparts := make(map[string]struct{})
	for _, d := range docs {
		other := d.SenderID
		if other == user {
			other = d.ReceiverID
		}
		counterparts[other] = struct{}{}
		if d.File != nil && d.File.StoragePath != "" {
			res.StoragePaths = append(res.StoragePaths, d.File.StoragePath)
		}
	}
	for id := range counterparts {
		res.Counterparts = append(res.Counterparts, id)
	}
	sort.Strings(res.Counterparts)

	del, err := s.messages.DeleteMany(ctx, participant(user))
	if err != nil {
		return res, errors.Wrap(err, "mongoStore.DeleteUserMessages.delete")
	}
	res.Messages = int(del.DeletedCount)
	return res, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	filter := bson.D{{Key: "expiresAt", Value: bson.D{
		{Key: "$ne", Value: nil},
		{Key: "$lte", Value: now},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}}).SetLimit(int64(limit))
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.PurgeExpired.find")
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongoStore.PurgeExpired.decode")
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make(bson.A, len(docs))
	out := make([]*models.Message, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		out[i] = d.toModel()
	}
	_, err = s.messages.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore.PurgeExpired.delete")
	}
	return out, nil
}
