package database

import "go.mongodb.org/mongo-driver/mongo"

// Table names a persisted model; the same name is used for the Mongo
// collection and the Postgres table.
type Table interface {
	GetTableName() string
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
