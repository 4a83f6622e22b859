package broker

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleDelete resolves the target set the way retrieve does, then removes
// each document with its pre-state written to history first. Per-document
// failures do not stop the rest of the set.
func (d *Dispatcher) handleDelete(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)

	var targets []bson.Raw
	if _, byID := model.LookupRawValue(env.Document, "_id"); byID {
		doc, err := coll.FindOne(ctx, env.Document, nil)
		if errors.Is(err, store.ErrNoDocuments) {
			return fail(MsgNotFound)
		}
		if err != nil {
			logger.Error("delete target read failed", logger.Err(err))
			return fail(MsgUnexpectedError)
		}
		targets = []bson.Raw{doc}
	} else {
		docs, err := coll.Find(ctx, env.Document, nil)
		if err != nil {
			logger.Error("delete target read failed", logger.Err(err))
			return fail(MsgUnexpectedError)
		}
		if len(docs) == 0 {
			return fail(MsgNotFound)
		}
		targets = docs
	}

	opts := deleteOptionsFrom(env.Options)
	success := bson.A{}
	failure := bson.A{}
	historyIDs := bson.A{}
	for _, doc := range targets {
		id := doc.Lookup("_id")

		// Pre-state goes to history before the row disappears.
		if !env.SkipVersion {
			vhID, err := d.history.Record(ctx, sess, env.Target(), env.Action, doc, env.Metadata)
			if err != nil {
				logger.Error("history record failed before delete", logger.Err(err))
				failure = append(failure, id)
				continue
			}
			historyIDs = append(historyIDs, vhID)
		}

		if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}, opts); err != nil {
			logger.Error("delete failed",
				logger.Database(env.Database),
				logger.Collection(env.Collection),
				logger.Err(err))
			failure = append(failure, id)
			continue
		}
		success = append(success, id)
	}

	return respond(bson.D{
		{Key: "success", Value: success},
		{Key: "failure", Value: failure},
		{Key: "history", Value: historyIDs},
	})
}
