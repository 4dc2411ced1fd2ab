package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MissionChat/data/database"
	"MissionChat/data/database/mgo/mongoutil"
	"MissionChat/module/chat/model"
	"MissionChat/tools/errs"
)

// 字段名，和 model 的 bson tag 保持一致
const (
	FieldID             = "_id"
	FieldType           = "type"
	FieldParticipants   = "participants"
	FieldMission        = "mission"
	FieldDirectKey      = "direct_key"
	FieldLastMessage    = "last_message"
	FieldLastSentAt     = "last_message.sent_at"
	FieldUpdatedAt      = "updated_at"
	FieldConversationID = "conversation_id"
	FieldCreatedAt      = "created_at"
	FieldReadBy         = "read_by"
)

// maxCASRetries bounds re-attempts when a conditional write loses a race
// that the follow-up read cannot explain.
const maxCASRetries = 3

type MongoConversations struct {
	coll *mongo.Collection
}

func NewMongoConversations(db *mongo.Database) *MongoConversations {
	return &MongoConversations{coll: database.Collection(db, &model.Conversation{})}
}

// NewMongoStores wires both stores on db and makes sure the indexes exist.
func NewMongoStores(ctx context.Context, db *mongo.Database) (*Stores, error) {
	if err := EnsureMongoIndexes(ctx, db); err != nil {
		return nil, err
	}
	return &Stores{
		Conversations: NewMongoConversations(db),
		Messages:      NewMongoMessages(db),
	}, nil
}

func (s *MongoConversations) FindOrCreateDirect(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	filter := bson.M{FieldDirectKey: c.DirectKey}
	update := bson.M{"$setOnInsert": c}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out model.Conversation
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongoutil.IsDuplicateKey(err) {
		// two upserts raced on the unique index; the loser reads the winner
		err = s.coll.FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "find or create direct", "key", c.DirectKey)
	}
	return &out, out.ID == c.ID, nil
}

func (s *MongoConversations) Create(ctx context.Context, c *model.Conversation) error {
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		if mongoutil.IsDuplicateKey(err) {
			return ErrConflict
		}
		return errs.WrapMsg(err, "insert conversation", "id", c.ID)
	}
	return nil
}

func (s *MongoConversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	err := s.coll.FindOne(ctx, bson.M{FieldID: id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get conversation", "id", id)
	}
	return &out, nil
}

func (s *MongoConversations) ListByParticipant(ctx context.Context, user string) ([]*model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: FieldUpdatedAt, Value: -1}, {Key: FieldID, Value: -1}})
	cur, err := s.coll.Find(ctx, bson.M{FieldParticipants: user}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "list conversations", "user", user)
	}
	out := make([]*model.Conversation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode conversations", "user", user)
	}
	return out, nil
}

func (s *MongoConversations) AddParticipant(ctx context.Context, id, requester, user string, at time.Time) (*model.Conversation, error) {
	filter := bson.M{
		FieldID:   id,
		FieldType: bson.M{"$ne": model.ConversationDirect},
		"$and": bson.A{
			bson.M{FieldParticipants: requester},
			bson.M{FieldParticipants: bson.M{"$ne": user}},
		},
	}
	update := bson.M{
		"$push": bson.M{FieldParticipants: user},
		"$max":  bson.M{FieldUpdatedAt: at},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for i := 0; i < maxCASRetries; i++ {
		var out model.Conversation
		err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
		if err == nil {
			return &out, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.WrapMsg(err, "add participant", "id", id)
		}
		if err := s.explain(ctx, id, requester, user); err != nil {
			return nil, err
		}
	}
	return nil, errs.New("add participant: lost race", "id", id)
}

func (s *MongoConversations) RemoveParticipant(ctx context.Context, id, requester string, at time.Time) (*model.Conversation, bool, error) {
	filter := bson.M{
		FieldID:           id,
		FieldType:         bson.M{"$ne": model.ConversationDirect},
		FieldParticipants: requester,
	}
	update := bson.M{
		"$pull": bson.M{FieldParticipants: requester},
		"$max":  bson.M{FieldUpdatedAt: at},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for i := 0; i < maxCASRetries; i++ {
		var out model.Conversation
		err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if err := s.explain(ctx, id, requester, ""); err != nil {
				return nil, false, err
			}
			continue
		}
		if err != nil {
			return nil, false, errs.WrapMsg(err, "remove participant", "id", id)
		}
		if len(out.Participants) > 0 {
			return &out, false, nil
		}
		// only delete if nobody joined between the pull and now
		res, err := s.coll.DeleteOne(ctx, bson.M{FieldID: id, FieldParticipants: bson.M{"$size": 0}})
		if err != nil {
			return nil, false, errs.WrapMsg(err, "delete empty conversation", "id", id)
		}
		if res.DeletedCount == 1 {
			return nil, true, nil
		}
		cur, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, true, nil
		}
		return cur, false, err
	}
	return nil, false, errs.New("remove participant: lost race", "id", id)
}

// explain re-reads a conversation after a conditional write matched nothing.
// A nil return means the state changed under us and the write should be retried.
func (s *MongoConversations) explain(ctx context.Context, id, requester, user string) error {
	c, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return classify(c, requester, user)
}

func (s *MongoConversations) TouchLastMessage(ctx context.Context, id string, last model.LastMessage) error {
	filter := bson.M{
		FieldID:         id,
		FieldLastSentAt: bson.M{"$not": bson.M{"$gt": last.SentAt}},
	}
	update := bson.M{
		"$set": bson.M{FieldLastMessage: last},
		"$max": bson.M{FieldUpdatedAt: last.SentAt},
	}
	if _, err := s.coll.UpdateOne(ctx, filter, update); err != nil {
		return errs.WrapMsg(err, "touch last message", "id", id)
	}
	return nil
}
