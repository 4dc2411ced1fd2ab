package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MissionChat/data/database"
	"MissionChat/module/chat/model"
	"MissionChat/tools/errs"
)

// EnsureMongoIndexes is idempotent; CreateMany is a no-op for existing identical indexes.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	convIdx := []mongo.IndexModel{
		{
			// direct pair uniqueness: at most one direct conversation per unordered pair
			Keys: bson.D{{Key: FieldDirectKey, Value: 1}},
			Options: options.Index().
				SetName("uniq_direct_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{FieldDirectKey: bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: FieldParticipants, Value: 1}, {Key: FieldUpdatedAt, Value: -1}},
			Options: options.Index().SetName("idx_participants_updated"),
		},
		{
			Keys:    bson.D{{Key: FieldMission, Value: 1}},
			Options: options.Index().SetName("idx_mission").SetSparse(true),
		},
	}
	if _, err := database.Collection(db, &model.Conversation{}).Indexes().CreateMany(ctx, convIdx); err != nil {
		return errs.WrapMsg(err, "create conversation indexes")
	}

	msgIdx := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: FieldConversationID, Value: 1},
				{Key: FieldCreatedAt, Value: -1},
				{Key: FieldID, Value: -1},
			},
			Options: options.Index().SetName("idx_conv_created"),
		},
	}
	if _, err := database.Collection(db, &model.Message{}).Indexes().CreateMany(ctx, msgIdx); err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	return nil
}
