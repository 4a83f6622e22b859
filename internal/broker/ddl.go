package broker

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleIndex creates an index from the key specification in document.
// Creating an index that already exists with compatible options returns
// the existing name.
func (d *Dispatcher) handleIndex(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	if emptyDoc(env.Document) {
		return fail(MsgMissingFields, "document")
	}
	coll := sess.Collection(env.Database, env.Collection)
	name, err := coll.CreateIndex(ctx, env.Document, indexOptionsFrom(env.Options))
	if err != nil {
		logger.Error("index create failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	return respond(bson.D{{Key: "name", Value: name}})
}

// handleDropIndex drops by name or by key specification.
func (d *Dispatcher) handleDropIndex(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	coll := sess.Collection(env.Database, env.Collection)

	if name, ok := model.LookupString(env.Document, "name"); ok {
		if err := coll.DropIndex(ctx, name); err != nil {
			logger.Error("index drop failed", "index", name, logger.Err(err))
			return fail(MsgUnexpectedError)
		}
		return respond(bson.D{{Key: "success", Value: true}})
	}
	if spec, ok := model.LookupDocument(env.Document, "specification"); ok {
		if err := coll.DropIndexBySpec(ctx, spec); err != nil {
			logger.Error("index drop failed", logger.Err(err))
			return fail(MsgUnexpectedError)
		}
		return respond(bson.D{{Key: "success", Value: true}})
	}
	return fail(MsgMissingFields, "name", "specification")
}

func (d *Dispatcher) handleCreateCollection(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	if err := sess.CreateCollection(ctx, env.Database, env.Collection, createCollectionOptionsFrom(env.Options)); err != nil {
		logger.Error("collection create failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	return respond(bson.D{{Key: "success", Value: true}})
}

// handleDropCollection drops the collection; with clearVersionHistory set
// the matching audit records are purged out-of-band after the response.
func (d *Dispatcher) handleDropCollection(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	if err := sess.DropCollection(ctx, env.Database, env.Collection); err != nil {
		logger.Error("collection drop failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}

	clear, _ := model.LookupBool(env.Document, "clearVersionHistory")
	if !clear {
		clear, _ = model.LookupBool(env.Options, "clearVersionHistory")
	}
	if clear {
		target := env.Target()
		d.spawn("history purge", func(ctx context.Context, sess store.Session) error {
			n, err := d.history.Purge(ctx, sess, target)
			if err == nil {
				logger.Info("history purged",
					logger.Database(target.Database),
					logger.Collection(target.Collection),
					"records", n)
			}
			return err
		})
	}
	return respond(bson.D{{Key: "success", Value: true}})
}

// handleRenameCollection renames the collection, then repoints its history
// records out-of-band.
func (d *Dispatcher) handleRenameCollection(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	to, ok := model.LookupString(env.Document, "to")
	if !ok || to == "" {
		return fail(MsgMissingFields, "to")
	}
	if d.history.Forbidden(model.Location{Database: env.Database, Collection: to}) {
		return fail(MsgInvalidAction)
	}

	if err := sess.RenameCollection(ctx, env.Database, env.Collection, to); err != nil {
		logger.Error("collection rename failed",
			logger.Database(env.Database),
			logger.Collection(env.Collection),
			"to", to,
			logger.Err(err))
		return fail(MsgUnexpectedError)
	}

	database, from := env.Database, env.Collection
	d.spawn("history rename", func(ctx context.Context, sess store.Session) error {
		n, err := d.history.Rename(ctx, sess, database, from, to)
		if err == nil {
			logger.Info("history repointed", logger.Database(database), "from", from, "to", to, "records", n)
		}
		return err
	})
	return respond(bson.D{{Key: "success", Value: true}})
}
