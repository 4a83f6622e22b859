package broker

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleRetrieve answers a single document for primary-key filters and a
// result list otherwise. An empty result list is not an error; a missed
// primary-key lookup is.
func (d *Dispatcher) handleRetrieve(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	// A blank filter would stream the whole collection back; require at
	// least one predicate.
	if isEmptyDoc(env.Document) {
		return fail(MsgMissingFields, "document")
	}

	coll := sess.Collection(env.Database, env.Collection)
	opts := findOptionsFrom(env.Options)

	if _, byID := model.LookupRawValue(env.Document, "_id"); byID {
		doc, err := coll.FindOne(ctx, env.Document, opts)
		if errors.Is(err, store.ErrNoDocuments) {
			return fail(MsgNotFound)
		}
		if err != nil {
			logger.Error("retrieve failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
			return fail(MsgUnexpectedError)
		}
		return respond(bson.D{{Key: "result", Value: doc}})
	}

	docs, err := coll.Find(ctx, env.Document, opts)
	if err != nil {
		logger.Error("retrieve failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
		return fail(MsgUnexpectedError)
	}
	results := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc)
	}
	return respond(bson.D{{Key: "results", Value: results}})
}

func isEmptyDoc(doc bson.Raw) bool {
	elems, err := doc.Elements()
	return err != nil || len(elems) == 0
}
