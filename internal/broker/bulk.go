package broker

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// handleBulk processes an insert batch, then a delete batch. The response
// carries a count key per batch that was present in the request, plus the
// history ids each batch produced.
func (d *Dispatcher) handleBulk(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	inserts, hasInserts := model.LookupArray(env.Document, "insert")
	deletes, hasDeletes := model.LookupArray(env.Document, "delete")
	if !hasInserts && !hasDeletes {
		return fail(MsgMissingFields, "insert", "delete")
	}

	coll := sess.Collection(env.Database, env.Collection)
	response := bson.D{}
	historyCreated := bson.A{}
	historyDeleted := bson.A{}

	if hasInserts {
		docs, err := documentArray(inserts)
		if err != nil {
			return fail(MsgInsertError)
		}
		ids, err := coll.InsertMany(ctx, docs, insertOptionsFrom(env.Options))
		if err != nil {
			logger.Error("bulk insert failed", logger.Database(env.Database), logger.Collection(env.Collection), logger.Err(err))
			return fail(MsgInsertError)
		}
		if !env.SkipVersion {
			for i, id := range ids {
				snapshot, err := snapshotWithID(docs[i].(bson.Raw), id)
				if err != nil {
					return fail(MsgCreateVersionFailed)
				}
				vhID, err := d.history.Record(ctx, sess, env.Target(), model.ActionCreate, snapshot, env.Metadata)
				if err != nil {
					logger.Error("history record failed after bulk insert", logger.Err(err))
					return fail(MsgCreateVersionFailed)
				}
				historyCreated = append(historyCreated, vhID)
			}
		}
		response = append(response, bson.E{Key: "create", Value: int32(len(ids))})
	}

	if hasDeletes {
		filters, err := documentArray(deletes)
		if err != nil {
			return fail(MsgUnexpectedError)
		}
		deleted := 0
		for _, filter := range filters {
			doc, err := coll.FindOne(ctx, filter, nil)
			if errors.Is(err, store.ErrNoDocuments) {
				continue
			}
			if err != nil {
				logger.Error("bulk delete target read failed", logger.Err(err))
				return fail(MsgUnexpectedError)
			}
			if !env.SkipVersion {
				vhID, err := d.history.Record(ctx, sess, env.Target(), model.ActionDelete, doc, env.Metadata)
				if err != nil {
					logger.Error("history record failed before bulk delete", logger.Err(err))
					return fail(MsgCreateVersionFailed)
				}
				historyDeleted = append(historyDeleted, vhID)
			}
			if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: doc.Lookup("_id")}}, nil); err != nil {
				logger.Error("bulk delete failed", logger.Err(err))
				return fail(MsgUnexpectedError)
			}
			deleted++
		}
		response = append(response, bson.E{Key: "delete", Value: int32(deleted)})
	}

	response = append(response, bson.E{Key: "history", Value: bson.D{
		{Key: "created", Value: historyCreated},
		{Key: "deleted", Value: historyDeleted},
	}})
	return respond(response)
}

// documentArray expands a raw array whose elements must all be documents.
func documentArray(arr bson.Raw) ([]any, error) {
	values, err := model.ArrayValues(arr)
	if err != nil {
		return nil, err
	}
	docs := make([]any, 0, len(values))
	for _, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, errors.New("array element is not a document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// snapshotWithID returns doc as stored: when the insert generated the
// primary key, it is merged in front.
func snapshotWithID(doc bson.Raw, id bson.RawValue) (bson.Raw, error) {
	if _, ok := model.LookupRawValue(doc, "_id"); ok {
		return doc, nil
	}
	var decoded bson.D
	if err := bson.Unmarshal(doc, &decoded); err != nil {
		return nil, err
	}
	decoded = append(bson.D{{Key: "_id", Value: id}}, decoded...)
	return bson.Marshal(decoded)
}
