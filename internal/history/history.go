// Package history appends version-history records for document mutations.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/store"
	"github.com/marmos91/docbroker/internal/telemetry"
)

// ErrForbiddenLocation is returned when a write targets the history
// location itself.
var ErrForbiddenLocation = errors.New("history: target is the history location")

// Writer appends audit records into the configured history collection.
type Writer struct {
	location model.Location
}

// NewWriter builds a writer targeting location.
func NewWriter(location model.Location) *Writer {
	return &Writer{location: location}
}

// Location returns the configured history database/collection pair.
func (w *Writer) Location() model.Location {
	return w.location
}

// Forbidden reports whether a mutation at target must be rejected because
// it would write into the history location.
func (w *Writer) Forbidden(target model.Location) bool {
	return target == w.location
}

// Record appends one audit record under sess and returns its id. Snapshot
// is the caller-chosen point-in-time document: post-state for create,
// update and replace, pre-state for delete. The write shares sess so it
// joins any transaction active on it.
func (w *Writer) Record(ctx context.Context, sess store.Session, source model.Location, action model.Action, snapshot bson.Raw, metadata bson.Raw) (primitive.ObjectID, error) {
	if w.Forbidden(source) {
		return primitive.NilObjectID, ErrForbiddenLocation
	}

	ctx, span := telemetry.StartHistorySpan(ctx, action.String(),
		telemetry.Database(source.Database), telemetry.Collection(source.Collection))
	defer span.End()

	record := model.VersionRecord{
		ID:         primitive.NewObjectID(),
		Database:   source.Database,
		Collection: source.Collection,
		Action:     action.String(),
		Entity:     snapshot,
		Created:    time.Now().UTC(),
		Metadata:   metadata,
	}

	coll := sess.Collection(w.location.Database, w.location.Collection)
	if _, err := coll.InsertOne(ctx, record, nil); err != nil {
		return primitive.NilObjectID, fmt.Errorf("history record for %s: %w", source, err)
	}
	return record.ID, nil
}

// Purge removes every history record whose source matches target. Used by
// dropCollection cleanup.
func (w *Writer) Purge(ctx context.Context, sess store.Session, target model.Location) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHistoryPurge,
		trace.WithAttributes(telemetry.Database(target.Database), telemetry.Collection(target.Collection)))
	defer span.End()

	coll := sess.Collection(w.location.Database, w.location.Collection)
	return coll.DeleteMany(ctx, bson.D{
		{Key: "database", Value: target.Database},
		{Key: "collection", Value: target.Collection},
	}, nil)
}

// Rename repoints history records from one collection name to another.
// Used by renameCollection cleanup so audit trails follow the data.
func (w *Writer) Rename(ctx context.Context, sess store.Session, database, from, to string) (int64, error) {
	coll := sess.Collection(w.location.Database, w.location.Collection)
	res, err := coll.UpdateMany(ctx,
		bson.D{{Key: "database", Value: database}, {Key: "collection", Value: from}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "collection", Value: to}}}},
		nil)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// EnsureIndexes creates the history collection's indexes. Creation is
// idempotent: rerunning against existing indexes is not an error.
func (w *Writer) EnsureIndexes(ctx context.Context, sess store.Session) error {
	coll := sess.Collection(w.location.Database, w.location.Collection)
	keys := []bson.D{
		{{Key: "database", Value: int32(1)}},
		{{Key: "collection", Value: int32(1)}},
		{{Key: "action", Value: int32(1)}},
		{{Key: "entity._id", Value: int32(1)}},
		{{Key: "created", Value: int32(1)}},
	}
	for _, key := range keys {
		if _, err := coll.CreateIndex(ctx, key, nil); err != nil {
			return fmt.Errorf("history index %v: %w", key, err)
		}
	}
	return nil
}
