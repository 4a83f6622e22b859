package broker

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleUpdate supports three request shapes:
//
//   - merge-by-id: document carries _id plus the fields to set
//   - replace: document carries filter and replace sub-documents
//   - update-many: document carries filter and update sub-documents
//
// Anything else is an invalid update.
func (d *Dispatcher) handleUpdate(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	filter, hasFilter := model.LookupDocument(env.Document, "filter")
	if hasFilter {
		if replacement, ok := model.LookupDocument(env.Document, "replace"); ok {
			return d.updateReplace(ctx, sess, env, filter, replacement)
		}
		if update, ok := model.LookupDocument(env.Document, "update"); ok {
			return d.updateMany(ctx, sess, env, filter, update)
		}
		return fail(MsgInvalidUpdate)
	}
	if _, ok := model.LookupRawValue(env.Document, "_id"); ok {
		return d.updateMerge(ctx, sess, env)
	}
	return fail(MsgInvalidUpdate)
}

func (d *Dispatcher) updateMerge(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	id := env.Document.Lookup("_id")

	set, err := withoutField(env.Document, "_id")
	if err != nil {
		return fail(MsgInvalidUpdate)
	}
	if emptyDoc(set) {
		return fail(MsgInvalidUpdate)
	}

	coll := sess.Collection(env.Database, env.Collection)
	idFilter := bson.D{{Key: "_id", Value: id}}

	res, err := coll.UpdateOne(ctx, idFilter, bson.D{{Key: "$set", Value: set}}, updateOptionsFrom(env.Options))
	if err != nil {
		logger.Error("update failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUpdateError)
	}
	if res.MatchedCount == 0 {
		return fail(MsgNotFound)
	}

	post, err := coll.FindOne(ctx, idFilter, nil)
	if err != nil {
		logger.Error("post-state read failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUpdateError)
	}

	if env.SkipVersion {
		return respond(bson.D{{Key: "skipVersion", Value: true}})
	}

	vhID, err := d.history.Record(ctx, sess, env.Target(), env.Action, post, env.Metadata)
	if err != nil {
		logger.Error("history record failed after update", logger.Err(err))
		return fail(MsgCreateVersionFailed)
	}
	return respond(bson.D{
		{Key: "document", Value: post},
		{Key: "history", Value: vhID},
	})
}

func (d *Dispatcher) updateReplace(ctx context.Context, sess store.Session, env *model.Envelope, filter, replacement bson.Raw) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)
	opts := replaceOptionsFrom(env.Options)
	upsert := opts.Upsert != nil && *opts.Upsert

	pre, err := coll.FindOne(ctx, filter, nil)
	if errors.Is(err, store.ErrNoDocuments) {
		if !upsert {
			return fail(MsgNotFound)
		}
		res, err := coll.ReplaceOne(ctx, filter, replacement, opts)
		if err != nil {
			logger.Error("upsert replace failed", logger.Err(err))
			return fail(MsgUpdateError)
		}
		return d.replaceResponse(ctx, sess, env, coll, bson.D{{Key: "_id", Value: res.UpsertedID}})
	}
	if err != nil {
		logger.Error("replace target read failed", logger.Err(err))
		return fail(MsgUpdateError)
	}

	idFilter := bson.D{{Key: "_id", Value: pre.Lookup("_id")}}
	if _, err := coll.ReplaceOne(ctx, idFilter, replacement, opts); err != nil {
		logger.Error("replace failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUpdateError)
	}
	return d.replaceResponse(ctx, sess, env, coll, idFilter)
}

func (d *Dispatcher) replaceResponse(ctx context.Context, sess store.Session, env *model.Envelope, coll store.Collection, idFilter bson.D) bson.Raw {
	post, err := coll.FindOne(ctx, idFilter, nil)
	if err != nil {
		logger.Error("post-state read failed", logger.Err(err))
		return fail(MsgUpdateError)
	}
	if env.SkipVersion {
		return respond(bson.D{{Key: "skipVersion", Value: true}})
	}
	vhID, err := d.history.Record(ctx, sess, env.Target(), env.Action, post, env.Metadata)
	if err != nil {
		logger.Error("history record failed after replace", logger.Err(err))
		return fail(MsgCreateVersionFailed)
	}
	return respond(bson.D{
		{Key: "document", Value: post},
		{Key: "history", Value: vhID},
	})
}

// updateMany applies the set-operation form of update to every match, then
// reads the matched set back and records one history entry per post-state.
func (d *Dispatcher) updateMany(ctx context.Context, sess store.Session, env *model.Envelope, filter, update bson.Raw) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)

	// Matched ids are captured before the write: the update may move
	// documents out of the filter.
	pre, err := coll.Find(ctx, filter, nil)
	if err != nil {
		logger.Error("update-many target read failed", logger.Err(err))
		return fail(MsgUpdateError)
	}

	if _, err := coll.UpdateMany(ctx, filter, bson.D{{Key: "$set", Value: update}}, updateOptionsFrom(env.Options)); err != nil {
		logger.Error("update-many failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUpdateError)
	}

	success := bson.A{}
	failure := bson.A{}
	historyIDs := bson.A{}
	for _, doc := range pre {
		id := doc.Lookup("_id")
		idFilter := bson.D{{Key: "_id", Value: id}}
		post, err := coll.FindOne(ctx, idFilter, nil)
		if err != nil {
			failure = append(failure, id)
			continue
		}
		if !env.SkipVersion {
			vhID, err := d.history.Record(ctx, sess, env.Target(), env.Action, post, env.Metadata)
			if err != nil {
				logger.Error("history record failed after update-many", logger.Err(err))
				failure = append(failure, id)
				continue
			}
			historyIDs = append(historyIDs, vhID)
		}
		success = append(success, id)
	}

	return respond(bson.D{
		{Key: "success", Value: success},
		{Key: "failure", Value: failure},
		{Key: "history", Value: historyIDs},
	})
}

// withoutField rebuilds doc minus one top-level field.
func withoutField(doc bson.Raw, field string) (bson.Raw, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := bson.D{}
	for _, e := range elems {
		if e.Key() == field {
			continue
		}
		out = append(out, bson.E{Key: e.Key(), Value: e.Value()})
	}
	return bson.Marshal(out)
}

func emptyDoc(doc bson.Raw) bool {
	elems, err := doc.Elements()
	return err == nil && len(elems) == 0
}
