package broker

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
)

// txnState accumulates the outcome of one transaction.
type txnState struct {
	created int32
	updated int32
	deleted int32

	historyCreated bson.A
	historyDeleted bson.A
}

// handleTransaction executes document.items in order inside a single
// journal-acknowledged majority-write transaction. Any invalid or failing
// item aborts the whole list.
func (d *Dispatcher) handleTransaction(ctx context.Context, sess store.Session, env *model.Envelope) bson.Raw {
	items, ok := model.LookupArray(env.Document, "items")
	if !ok {
		return fail(MsgMissingFields, "items")
	}
	itemValues, err := model.ArrayValues(items)
	if err != nil {
		return fail(MsgTransactionError)
	}

	state := &txnState{historyCreated: bson.A{}, historyDeleted: bson.A{}}
	err = sess.WithTransaction(ctx, func(ctx context.Context) error {
		for i, v := range itemValues {
			item, isDoc := v.DocumentOK()
			if !isDoc {
				return fmt.Errorf("item %d is not a document", i)
			}
			if err := d.executeItem(ctx, sess, item, state); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("transaction aborted", logger.Err(err))
		return fail(MsgTransactionError)
	}

	vh := d.history.Location()
	return respond(bson.D{
		{Key: "created", Value: state.created},
		{Key: "updated", Value: state.updated},
		{Key: "deleted", Value: state.deleted},
		{Key: "history", Value: bson.D{
			{Key: "database", Value: vh.Database},
			{Key: "collection", Value: vh.Collection},
			{Key: "created", Value: state.historyCreated},
			{Key: "deleted", Value: state.historyDeleted},
		}},
	})
}

func (d *Dispatcher) executeItem(ctx context.Context, sess store.Session, item bson.Raw, state *txnState) error {
	actionTag, ok := model.LookupString(item, "action")
	if !ok {
		return errors.New("missing action")
	}
	database, ok := model.LookupString(item, "database")
	if !ok {
		return errors.New("missing database")
	}
	collName, ok := model.LookupString(item, "collection")
	if !ok {
		return errors.New("missing collection")
	}
	document, ok := model.LookupDocument(item, "document")
	if !ok {
		return errors.New("missing document")
	}
	metadata, _ := model.LookupDocument(item, "metadata")
	skipVersion, _ := model.LookupBool(item, "skipVersion")

	target := model.Location{Database: database, Collection: collName}
	if d.history.Forbidden(target) {
		return fmt.Errorf("mutation on history location %s", target)
	}

	coll := sess.Collection(database, collName)
	switch model.Action(actionTag) {
	case model.ActionCreate:
		if _, hasID := model.LookupRawValue(document, "_id"); !hasID {
			return errors.New("create item without _id")
		}
		if _, err := coll.InsertOne(ctx, document, nil); err != nil {
			return err
		}
		if !skipVersion {
			vhID, err := d.history.Record(ctx, sess, target, model.ActionCreate, document, metadata)
			if err != nil {
				return err
			}
			state.historyCreated = append(state.historyCreated, vhID)
		}
		state.created++
		return nil

	case model.ActionUpdate:
		// TODO: apply update items once the update-in-transaction
		// semantics are settled; today they neither mutate nor fail.
		return nil

	case model.ActionDelete:
		doc, err := coll.FindOne(ctx, document, nil)
		if err != nil {
			return err
		}
		if !skipVersion {
			vhID, err := d.history.Record(ctx, sess, target, model.ActionDelete, doc, metadata)
			if err != nil {
				return err
			}
			state.historyDeleted = append(state.historyDeleted, vhID)
		}
		if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: doc.Lookup("_id")}}, nil); err != nil {
			return err
		}
		state.deleted++
		return nil

	default:
		return fmt.Errorf("action %q not allowed in a transaction", actionTag)
	}
}
