// Package store defines the backing-store surface the broker depends on.
//
// The broker treats the document database as a collaborator behind these
// interfaces: a Store hands out Sessions, a Session scopes Collections and
// transactions. The mongo subpackage adapts the official driver; the memory
// subpackage is a reduced in-process implementation used by tests.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNoDocuments is returned by FindOne when the filter matches nothing.
	ErrNoDocuments = errors.New("store: no documents in result")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// primary key.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Store is a connected backing store.
type Store interface {
	// NewSession opens a fresh session. Sessions are pooled by the caller
	// and must be closed when discarded.
	NewSession(ctx context.Context) (Session, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close(ctx context.Context) error
}

// Session is one borrowed handle into the backing store. A session is not
// safe for concurrent use; the pool lends it to one handler at a time.
type Session interface {
	// Collection scopes operations to database/name under this session.
	Collection(database, name string) Collection

	// CreateCollection creates a collection with the given options.
	CreateCollection(ctx context.Context, database, name string, opts *CreateCollectionOptions) error

	// DropCollection drops a collection. Dropping a missing collection is
	// not an error.
	DropCollection(ctx context.Context, database, name string) error

	// RenameCollection renames from to to within database.
	RenameCollection(ctx context.Context, database, from, to string) error

	// WithTransaction runs fn inside a transaction with journal-acknowledged
	// majority write concern. Collection operations inside fn must use the
	// context passed to fn. The transaction commits when fn returns nil and
	// aborts otherwise.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Ping verifies the session's client is live.
	Ping(ctx context.Context) error

	// Close ends the session.
	Close()
}

// UpdateResult reports the outcome of an update or replace.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    bson.RawValue // zero when no upsert happened
}

// Collection exposes the per-collection operations the handlers need.
type Collection interface {
	FindOne(ctx context.Context, filter any, opts *FindOptions) (bson.Raw, error)
	Find(ctx context.Context, filter any, opts *FindOptions) ([]bson.Raw, error)

	InsertOne(ctx context.Context, doc any, opts *InsertOptions) (bson.RawValue, error)
	InsertMany(ctx context.Context, docs []any, opts *InsertOptions) ([]bson.RawValue, error)

	UpdateOne(ctx context.Context, filter, update any, opts *UpdateOptions) (*UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any, opts *UpdateOptions) (*UpdateResult, error)
	ReplaceOne(ctx context.Context, filter, replacement any, opts *ReplaceOptions) (*UpdateResult, error)

	DeleteOne(ctx context.Context, filter any, opts *DeleteOptions) (int64, error)
	DeleteMany(ctx context.Context, filter any, opts *DeleteOptions) (int64, error)

	CountDocuments(ctx context.Context, filter any, opts *CountOptions) (int64, error)
	Distinct(ctx context.Context, field string, filter any) ([]bson.RawValue, error)
	Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error)

	CreateIndex(ctx context.Context, keys any, opts *IndexOptions) (string, error)
	DropIndex(ctx context.Context, name string) error
	DropIndexBySpec(ctx context.Context, keys any) error
}

// WriteConcern is the forwarded write-concern descriptor. W is an int or the
// string "majority".
type WriteConcern struct {
	W        any
	Journal  *bool
	WTimeout time.Duration
}

// Unacknowledged reports whether the write concern requests no
// acknowledgement (w: 0).
func (wc *WriteConcern) Unacknowledged() bool {
	if wc == nil {
		return false
	}
	switch w := wc.W.(type) {
	case int:
		return w == 0
	case int32:
		return w == 0
	case int64:
		return w == 0
	default:
		return false
	}
}

// FindOptions carries the read-option surface for single and multi document
// queries. Raw fields are forwarded verbatim to the store.
type FindOptions struct {
	Projection     bson.Raw
	Sort           bson.Raw
	Hint           bson.RawValue // index name or key document
	Limit          *int64
	Skip           *int64
	Comment        *string
	Min            bson.Raw
	Max            bson.Raw
	Collation      bson.Raw
	ReadPreference string // primary, primaryPreferred, secondary, secondaryPreferred, nearest
	MaxTime        *time.Duration
	PartialResults *bool
	ReturnKey      *bool
	ShowRecordID   *bool
}

// InsertOptions carries insert options.
type InsertOptions struct {
	BypassValidation *bool
	Ordered          *bool
	WriteConcern     *WriteConcern
}

// UpdateOptions carries update options.
type UpdateOptions struct {
	BypassValidation *bool
	Collation        bson.Raw
	Upsert           *bool
	WriteConcern     *WriteConcern
}

// ReplaceOptions carries replace options.
type ReplaceOptions struct {
	BypassValidation *bool
	Collation        bson.Raw
	Upsert           *bool
	WriteConcern     *WriteConcern
}

// DeleteOptions carries delete options.
type DeleteOptions struct {
	Collation    bson.Raw
	WriteConcern *WriteConcern
}

// CountOptions carries count options.
type CountOptions struct {
	Hint           bson.RawValue
	Limit          *int64
	Skip           *int64
	Collation      bson.Raw
	ReadPreference string
	MaxTime        *time.Duration
}

// IndexOptions carries the index-creation option surface.
type IndexOptions struct {
	Name                    *string
	Unique                  *bool
	ExpireAfterSeconds      *int32
	Collation               bson.Raw
	PartialFilterExpression bson.Raw
	Sparse                  *bool
	Hidden                  *bool
	// Background is accepted for compatibility; modern servers ignore it.
	Background *bool
}

// TimeseriesOptions configures a time-series collection.
type TimeseriesOptions struct {
	TimeField   string
	MetaField   *string
	Granularity *string
}

// CreateCollectionOptions mirrors the collection-creation option surface.
type CreateCollectionOptions struct {
	Capped                       *bool
	SizeInBytes                  *int64
	MaxDocuments                 *int64
	Timeseries                   *TimeseriesOptions
	ExpireAfterSeconds           *int64
	ChangeStreamPreAndPostImages bson.Raw
	ClusteredIndex               bson.Raw
	Validator                    bson.Raw
	ValidationLevel              *string
	ValidationAction             *string
	ViewOn                       *string
	Pipeline                     bson.Raw // array of stage documents
	Collation                    bson.Raw
}
