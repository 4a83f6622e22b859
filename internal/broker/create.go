package broker

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleCreate inserts one document and couples it with a version-history
// record. The insert happens first; a history failure after an applied
// insert answers createVersionFailed and leaves the document in place.
func (d *Dispatcher) handleCreate(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	if _, ok := model.LookupRawValue(env.Document, "_id"); !ok {
		return fail(MsgMissingID)
	}

	coll := sess.Collection(env.Database, env.Collection)
	insertedID, err := coll.InsertOne(ctx, env.Document, insertOptionsFrom(env.Options))
	if err != nil {
		logger.Error("insert failed",
			logger.Database(env.Database),
			logger.Collection(env.Collection),
			logger.EntityID(entityIDString(env.Document)),
			logger.Err(err))
		return fail(MsgInsertError)
	}

	if env.SkipVersion {
		return respond(bson.D{
			{Key: "skipVersion", Value: true},
			{Key: "entity", Value: insertedID},
		})
	}

	vhID, err := d.history.Record(ctx, sess, env.Target(), env.Action, env.Document, env.Metadata)
	if err != nil {
		logger.Error("history record failed after insert",
			logger.Database(env.Database),
			logger.Collection(env.Collection),
			logger.EntityID(entityIDString(env.Document)),
			logger.Err(err))
		return fail(MsgCreateVersionFailed)
	}

	vh := d.history.Location()
	return respond(bson.D{
		{Key: "_id", Value: vhID},
		{Key: "database", Value: vh.Database},
		{Key: "collection", Value: vh.Collection},
		{Key: "entity", Value: insertedID},
	})
}

// handleCreateTimeseries inserts a measurement document. Time-series
// points are append-only and never get version history; the document does
// not need a primary key.
func (d *Dispatcher) handleCreateTimeseries(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)
	insertedID, err := coll.InsertOne(ctx, env.Document, insertOptionsFrom(env.Options))
	if err != nil {
		logger.Error("timeseries insert failed",
			logger.Database(env.Database),
			logger.Collection(env.Collection),
			logger.Err(err))
		return fail(MsgInsertError)
	}
	return respond(bson.D{{Key: "entity", Value: insertedID}})
}
