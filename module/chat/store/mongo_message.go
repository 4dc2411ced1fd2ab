package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MissionChat/data/database"
	"MissionChat/data/database/mgo/mongoutil"
	"MissionChat/module/chat/model"
	"MissionChat/tools/errs"
)

type MongoMessages struct {
	coll *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	return &MongoMessages{coll: database.Collection(db, &model.Message{})}
}

func (s *MongoMessages) Insert(ctx context.Context, m *model.Message) error {
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		if mongoutil.IsDuplicateKey(err) {
			return ErrConflict
		}
		return errs.WrapMsg(err, "insert message", "id", m.ID, "conversation", m.ConversationID)
	}
	return nil
}

func (s *MongoMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	var out model.Message
	err := s.coll.FindOne(ctx, bson.M{FieldID: id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get message", "id", id)
	}
	return &out, nil
}

func (s *MongoMessages) Count(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{FieldConversationID: conversationID})
	if err != nil {
		return 0, errs.WrapMsg(err, "count messages", "conversation", conversationID)
	}
	return n, nil
}

func (s *MongoMessages) ListNewestFirst(ctx context.Context, conversationID string, skip, limit int64) ([]*model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: FieldCreatedAt, Value: -1}, {Key: FieldID, Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := s.coll.Find(ctx, bson.M{FieldConversationID: conversationID}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "conversation", conversationID)
	}
	out := make([]*model.Message, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "conversation", conversationID)
	}
	return out, nil
}

// MarkRead 只给缺少标记的消息加 read_by.<user>，已有的时间不变
func (s *MongoMessages) MarkRead(ctx context.Context, ids []string, user string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// user becomes a field path segment
	if user == "" || strings.ContainsAny(user, ".$") {
		return 0, errs.Validation("user id cannot be used as a read marker key").WrapMsg("", "user", user)
	}
	path := FieldReadBy + "." + user
	filter := bson.M{
		FieldID: bson.M{"$in": ids},
		path:    bson.M{"$exists": false},
	}
	res, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{path: at}})
	if err != nil {
		return 0, errs.WrapMsg(err, "mark read", "user", user)
	}
	return res.ModifiedCount, nil
}

func (s *MongoMessages) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{FieldID: id})
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
