// Package mongo adapts the official MongoDB driver to the store interfaces.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/marmos91/docbroker/internal/store"
	"github.com/marmos91/docbroker/internal/telemetry"
)

// Config holds the driver connection settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration

	// AppName is reported to the server for connection diagnostics.
	AppName string
}

// Store wraps a connected *mongo.Client.
type Store struct {
	client *mongo.Client
}

// Connect establishes the client and verifies reachability with a ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.AppName != "" {
		opts = opts.SetAppName(cfg.AppName)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewSession starts a driver session.
func (s *Store) NewSession(ctx context.Context) (store.Session, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &session{client: s.client, sess: sess}, nil
}

// Ping verifies the deployment is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type session struct {
	client *mongo.Client
	sess   mongo.Session
}

func (s *session) Collection(database, name string) store.Collection {
	return &collection{sess: s, database: database, name: name}
}

func (s *session) CreateCollection(ctx context.Context, database, name string, opts *store.CreateCollectionOptions) error {
	return s.run(ctx, func(sc mongo.SessionContext) error {
		db := s.client.Database(database)
		if opts != nil && opts.ViewOn != nil {
			var pipeline any = bson.A{}
			if opts.Pipeline != nil {
				pipeline = bson.RawValue{Type: bson.TypeArray, Value: opts.Pipeline}
			}
			viewOpts := options.CreateView()
			if c := collationFromRaw(opts.Collation); c != nil {
				viewOpts = viewOpts.SetCollation(c)
			}
			return db.CreateView(sc, name, *opts.ViewOn, pipeline, viewOpts)
		}
		return db.CreateCollection(sc, name, createCollectionOptions(opts))
	})
}

func (s *session) DropCollection(ctx context.Context, database, name string) error {
	return s.run(ctx, func(sc mongo.SessionContext) error {
		return s.client.Database(database).Collection(name).Drop(sc)
	})
}

func (s *session) RenameCollection(ctx context.Context, database, from, to string) error {
	return s.run(ctx, func(sc mongo.SessionContext) error {
		cmd := bson.D{
			{Key: "renameCollection", Value: database + "." + from},
			{Key: "to", Value: database + "." + to},
			{Key: "dropTarget", Value: false},
		}
		return s.client.Database("admin").RunCommand(sc, cmd).Err()
	})
}

// transactionWriteConcern is fixed regardless of the global default: the
// ordered executor demands journal-acknowledged majority writes.
func transactionWriteConcern() *writeconcern.WriteConcern {
	journal := true
	return &writeconcern.WriteConcern{W: "majority", Journal: &journal}
}

func (s *session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	txnOpts := options.Transaction().SetWriteConcern(transactionWriteConcern())
	_, err := s.sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	}, txnOpts)
	return err
}

func (s *session) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *session) Close() {
	s.sess.EndSession(context.Background())
}

// run executes fn bound to this session so operations participate in any
// active transaction.
func (s *session) run(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	return mongo.WithSession(ctx, s.sess, fn)
}

// ignoreUnacknowledged filters the driver's unacknowledged-write marker. A
// w:0 write returns its result together with ErrUnacknowledgedWrite; the
// broker treats fire-and-forget writes as successes.
func ignoreUnacknowledged(err error) error {
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return nil
	}
	return err
}

type collection struct {
	sess     *session
	database string
	name     string
}

// handle builds the driver collection with per-operation write concern and
// read preference applied.
func (c *collection) handle(wc *store.WriteConcern, readPref string) (*mongo.Collection, error) {
	opts := options.Collection()
	if wc != nil {
		opts = opts.SetWriteConcern(&writeconcern.WriteConcern{W: wc.W, Journal: wc.Journal, WTimeout: wc.WTimeout})
	}
	if readPref != "" {
		rp, err := readPrefFromString(readPref)
		if err != nil {
			return nil, err
		}
		opts = opts.SetReadPreference(rp)
	}
	return c.sess.client.Database(c.database).Collection(c.name, opts), nil
}

func readPrefFromString(s string) (*readpref.ReadPref, error) {
	mode, err := readpref.ModeFromString(s)
	if err != nil {
		return nil, fmt.Errorf("read preference %q: %w", s, err)
	}
	return readpref.New(mode)
}

func withMaxTime(ctx context.Context, maxTime *time.Duration) (context.Context, context.CancelFunc) {
	if maxTime != nil && *maxTime > 0 {
		return context.WithTimeout(ctx, *maxTime)
	}
	return ctx, func() {}
}

func collationFromRaw(raw bson.Raw) *options.Collation {
	if raw == nil {
		return nil
	}
	var c options.Collation
	if err := bson.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

func hintFromRawValue(v bson.RawValue) any {
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	if d, ok := v.DocumentOK(); ok {
		return d
	}
	return nil
}

func rawValueOf(v any) (bson.RawValue, error) {
	if rv, ok := v.(bson.RawValue); ok {
		return rv, nil
	}
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, fmt.Errorf("marshal value: %w", err)
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

func (c *collection) FindOne(ctx context.Context, filter any, opts *store.FindOptions) (bson.Raw, error) {
	if opts == nil {
		opts = &store.FindOptions{}
	}
	findOpts := options.FindOne()
	if opts.Projection != nil {
		findOpts = findOpts.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		findOpts = findOpts.SetSort(opts.Sort)
	}
	if h := hintFromRawValue(opts.Hint); h != nil {
		findOpts = findOpts.SetHint(h)
	}
	if opts.Skip != nil {
		findOpts = findOpts.SetSkip(*opts.Skip)
	}
	if opts.Comment != nil {
		findOpts = findOpts.SetComment(*opts.Comment)
	}
	if opts.Min != nil {
		findOpts = findOpts.SetMin(opts.Min)
	}
	if opts.Max != nil {
		findOpts = findOpts.SetMax(opts.Max)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		findOpts = findOpts.SetCollation(col)
	}
	if opts.PartialResults != nil {
		findOpts = findOpts.SetAllowPartialResults(*opts.PartialResults)
	}
	if opts.ReturnKey != nil {
		findOpts = findOpts.SetReturnKey(*opts.ReturnKey)
	}
	if opts.ShowRecordID != nil {
		findOpts = findOpts.SetShowRecordID(*opts.ShowRecordID)
	}

	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	ctx, span := telemetry.StartStoreSpan(ctx, "find", c.database, c.name)
	defer span.End()

	var out bson.Raw
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, opts.ReadPreference)
		if err != nil {
			return err
		}
		raw, err := coll.FindOne(sc, filter, findOpts).Raw()
		if err != nil {
			return err
		}
		out = raw
		return nil
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNoDocuments
	}
	return out, err
}

func (c *collection) Find(ctx context.Context, filter any, opts *store.FindOptions) ([]bson.Raw, error) {
	if opts == nil {
		opts = &store.FindOptions{}
	}
	findOpts := options.Find()
	if opts.Projection != nil {
		findOpts = findOpts.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		findOpts = findOpts.SetSort(opts.Sort)
	}
	if h := hintFromRawValue(opts.Hint); h != nil {
		findOpts = findOpts.SetHint(h)
	}
	if opts.Limit != nil {
		findOpts = findOpts.SetLimit(*opts.Limit)
	}
	if opts.Skip != nil {
		findOpts = findOpts.SetSkip(*opts.Skip)
	}
	if opts.Comment != nil {
		findOpts = findOpts.SetComment(*opts.Comment)
	}
	if opts.Min != nil {
		findOpts = findOpts.SetMin(opts.Min)
	}
	if opts.Max != nil {
		findOpts = findOpts.SetMax(opts.Max)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		findOpts = findOpts.SetCollation(col)
	}
	if opts.PartialResults != nil {
		findOpts = findOpts.SetAllowPartialResults(*opts.PartialResults)
	}
	if opts.ReturnKey != nil {
		findOpts = findOpts.SetReturnKey(*opts.ReturnKey)
	}
	if opts.ShowRecordID != nil {
		findOpts = findOpts.SetShowRecordID(*opts.ShowRecordID)
	}

	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	ctx, span := telemetry.StartStoreSpan(ctx, "find", c.database, c.name)
	defer span.End()

	var out []bson.Raw
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, opts.ReadPreference)
		if err != nil {
			return err
		}
		cursor, err := coll.Find(sc, filter, findOpts)
		if err != nil {
			return err
		}
		defer cursor.Close(sc)
		for cursor.Next(sc) {
			doc := make(bson.Raw, len(cursor.Current))
			copy(doc, cursor.Current)
			out = append(out, doc)
		}
		return cursor.Err()
	})
	return out, err
}

func (c *collection) InsertOne(ctx context.Context, doc any, opts *store.InsertOptions) (bson.RawValue, error) {
	if opts == nil {
		opts = &store.InsertOptions{}
	}
	insertOpts := options.InsertOne()
	if opts.BypassValidation != nil {
		insertOpts = insertOpts.SetBypassDocumentValidation(*opts.BypassValidation)
	}

	ctx, span := telemetry.StartStoreSpan(ctx, "insert", c.database, c.name)
	defer span.End()

	var id bson.RawValue
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(opts.WriteConcern, "")
		if err != nil {
			return err
		}
		res, err := coll.InsertOne(sc, doc, insertOpts)
		if err = ignoreUnacknowledged(err); err != nil {
			return err
		}
		id, err = rawValueOf(res.InsertedID)
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return bson.RawValue{}, fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
	}
	return id, err
}

func (c *collection) InsertMany(ctx context.Context, docs []any, opts *store.InsertOptions) ([]bson.RawValue, error) {
	if opts == nil {
		opts = &store.InsertOptions{}
	}
	insertOpts := options.InsertMany()
	if opts.BypassValidation != nil {
		insertOpts = insertOpts.SetBypassDocumentValidation(*opts.BypassValidation)
	}
	if opts.Ordered != nil {
		insertOpts = insertOpts.SetOrdered(*opts.Ordered)
	}

	ctx, span := telemetry.StartStoreSpan(ctx, "insert", c.database, c.name)
	defer span.End()

	var ids []bson.RawValue
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(opts.WriteConcern, "")
		if err != nil {
			return err
		}
		res, err := coll.InsertMany(sc, docs, insertOpts)
		if res != nil {
			for _, insertedID := range res.InsertedIDs {
				rv, convErr := rawValueOf(insertedID)
				if convErr != nil {
					return convErr
				}
				ids = append(ids, rv)
			}
		}
		return ignoreUnacknowledged(err)
	})
	return ids, err
}

func (c *collection) UpdateOne(ctx context.Context, filter, update any, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, false)
}

func (c *collection) UpdateMany(ctx context.Context, filter, update any, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, true)
}

func (c *collection) update(ctx context.Context, filter, update any, opts *store.UpdateOptions, many bool) (*store.UpdateResult, error) {
	if opts == nil {
		opts = &store.UpdateOptions{}
	}
	updateOpts := options.Update()
	if opts.BypassValidation != nil {
		updateOpts = updateOpts.SetBypassDocumentValidation(*opts.BypassValidation)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		updateOpts = updateOpts.SetCollation(col)
	}
	if opts.Upsert != nil {
		updateOpts = updateOpts.SetUpsert(*opts.Upsert)
	}

	ctx, span := telemetry.StartStoreSpan(ctx, "update", c.database, c.name)
	defer span.End()

	var out *store.UpdateResult
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(opts.WriteConcern, "")
		if err != nil {
			return err
		}
		var res *mongo.UpdateResult
		if many {
			res, err = coll.UpdateMany(sc, filter, update, updateOpts)
		} else {
			res, err = coll.UpdateOne(sc, filter, update, updateOpts)
		}
		if err = ignoreUnacknowledged(err); err != nil {
			return err
		}
		out, err = updateResult(res)
		return err
	})
	if err == nil && out != nil {
		span.SetAttributes(telemetry.Matched(out.MatchedCount), telemetry.Modified(out.ModifiedCount))
	}
	return out, err
}

func (c *collection) ReplaceOne(ctx context.Context, filter, replacement any, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	if opts == nil {
		opts = &store.ReplaceOptions{}
	}
	replaceOpts := options.Replace()
	if opts.BypassValidation != nil {
		replaceOpts = replaceOpts.SetBypassDocumentValidation(*opts.BypassValidation)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		replaceOpts = replaceOpts.SetCollation(col)
	}
	if opts.Upsert != nil {
		replaceOpts = replaceOpts.SetUpsert(*opts.Upsert)
	}

	ctx, span := telemetry.StartStoreSpan(ctx, "update", c.database, c.name)
	defer span.End()

	var out *store.UpdateResult
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(opts.WriteConcern, "")
		if err != nil {
			return err
		}
		res, err := coll.ReplaceOne(sc, filter, replacement, replaceOpts)
		if err = ignoreUnacknowledged(err); err != nil {
			return err
		}
		out, err = updateResult(res)
		return err
	})
	return out, err
}

func updateResult(res *mongo.UpdateResult) (*store.UpdateResult, error) {
	out := &store.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}
	if res.UpsertedID != nil {
		rv, err := rawValueOf(res.UpsertedID)
		if err != nil {
			return nil, err
		}
		out.UpsertedID = rv
	}
	return out, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter any, opts *store.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, opts, false)
}

func (c *collection) DeleteMany(ctx context.Context, filter any, opts *store.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, opts, true)
}

func (c *collection) delete(ctx context.Context, filter any, opts *store.DeleteOptions, many bool) (int64, error) {
	if opts == nil {
		opts = &store.DeleteOptions{}
	}
	deleteOpts := options.Delete()
	if col := collationFromRaw(opts.Collation); col != nil {
		deleteOpts = deleteOpts.SetCollation(col)
	}

	ctx, span := telemetry.StartStoreSpan(ctx, "delete", c.database, c.name)
	defer span.End()

	var deleted int64
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(opts.WriteConcern, "")
		if err != nil {
			return err
		}
		var res *mongo.DeleteResult
		if many {
			res, err = coll.DeleteMany(sc, filter, deleteOpts)
		} else {
			res, err = coll.DeleteOne(sc, filter, deleteOpts)
		}
		if err = ignoreUnacknowledged(err); err != nil {
			return err
		}
		deleted = res.DeletedCount
		return nil
	})
	if err == nil {
		span.SetAttributes(telemetry.Deleted(deleted))
	}
	return deleted, err
}

func (c *collection) CountDocuments(ctx context.Context, filter any, opts *store.CountOptions) (int64, error) {
	if opts == nil {
		opts = &store.CountOptions{}
	}
	countOpts := options.Count()
	if h := hintFromRawValue(opts.Hint); h != nil {
		countOpts = countOpts.SetHint(h)
	}
	if opts.Limit != nil {
		countOpts = countOpts.SetLimit(*opts.Limit)
	}
	if opts.Skip != nil {
		countOpts = countOpts.SetSkip(*opts.Skip)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		countOpts = countOpts.SetCollation(col)
	}

	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	ctx, span := telemetry.StartStoreSpan(ctx, "count", c.database, c.name)
	defer span.End()

	var count int64
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, opts.ReadPreference)
		if err != nil {
			return err
		}
		count, err = coll.CountDocuments(sc, filter, countOpts)
		return err
	})
	return count, err
}

func (c *collection) Distinct(ctx context.Context, field string, filter any) ([]bson.RawValue, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "distinct", c.database, c.name)
	defer span.End()

	var out []bson.RawValue
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, "")
		if err != nil {
			return err
		}
		values, err := coll.Distinct(sc, field, filter)
		if err != nil {
			return err
		}
		for _, v := range values {
			rv, convErr := rawValueOf(v)
			if convErr != nil {
				return convErr
			}
			out = append(out, rv)
		}
		return nil
	})
	return out, err
}

func (c *collection) Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "aggregate", c.database, c.name)
	defer span.End()

	var out []bson.Raw
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, "")
		if err != nil {
			return err
		}
		cursor, err := coll.Aggregate(sc, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(sc)
		for cursor.Next(sc) {
			doc := make(bson.Raw, len(cursor.Current))
			copy(doc, cursor.Current)
			out = append(out, doc)
		}
		return cursor.Err()
	})
	return out, err
}

// Index conflict codes: IndexOptionsConflict and IndexKeySpecsConflict. On
// either, the existing compatible index name is returned instead of an error.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

func (c *collection) CreateIndex(ctx context.Context, keys any, opts *store.IndexOptions) (string, error) {
	if opts == nil {
		opts = &store.IndexOptions{}
	}
	indexOpts := options.Index()
	if opts.Name != nil {
		indexOpts = indexOpts.SetName(*opts.Name)
	}
	if opts.Unique != nil {
		indexOpts = indexOpts.SetUnique(*opts.Unique)
	}
	if opts.ExpireAfterSeconds != nil {
		indexOpts = indexOpts.SetExpireAfterSeconds(*opts.ExpireAfterSeconds)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		indexOpts = indexOpts.SetCollation(col)
	}
	if opts.PartialFilterExpression != nil {
		indexOpts = indexOpts.SetPartialFilterExpression(opts.PartialFilterExpression)
	}
	if opts.Sparse != nil {
		indexOpts = indexOpts.SetSparse(*opts.Sparse)
	}
	if opts.Hidden != nil {
		indexOpts = indexOpts.SetHidden(*opts.Hidden)
	}

	var name string
	err := c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, "")
		if err != nil {
			return err
		}
		name, err = coll.Indexes().CreateOne(sc, mongo.IndexModel{Keys: keys, Options: indexOpts})
		if err == nil {
			return nil
		}
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && (cmdErr.Code == codeIndexOptionsConflict || cmdErr.Code == codeIndexKeySpecsConflict) {
			name, err = c.findIndexName(sc, coll, keys)
		}
		return err
	})
	return name, err
}

// findIndexName resolves the name of an existing index with the given key
// pattern.
func (c *collection) findIndexName(sc mongo.SessionContext, coll *mongo.Collection, keys any) (string, error) {
	wanted, err := bson.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("marshal index keys: %w", err)
	}

	cursor, err := coll.Indexes().List(sc)
	if err != nil {
		return "", err
	}
	defer cursor.Close(sc)

	for cursor.Next(sc) {
		spec := bson.Raw(cursor.Current)
		key, keyErr := spec.LookupErr("key")
		if keyErr != nil {
			continue
		}
		if keyDoc, ok := key.DocumentOK(); ok && bytesEqual(keyDoc, wanted) {
			if name, nameOk := spec.Lookup("name").StringValueOK(); nameOk {
				return name, nil
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("conflicting index not found for key pattern")
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *collection) DropIndex(ctx context.Context, name string) error {
	return c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, "")
		if err != nil {
			return err
		}
		_, err = coll.Indexes().DropOne(sc, name)
		return err
	})
}

func (c *collection) DropIndexBySpec(ctx context.Context, keys any) error {
	return c.sess.run(ctx, func(sc mongo.SessionContext) error {
		coll, err := c.handle(nil, "")
		if err != nil {
			return err
		}
		name, err := c.findIndexName(sc, coll, keys)
		if err != nil {
			return err
		}
		_, err = coll.Indexes().DropOne(sc, name)
		return err
	})
}

func createCollectionOptions(opts *store.CreateCollectionOptions) *options.CreateCollectionOptions {
	out := options.CreateCollection()
	if opts == nil {
		return out
	}
	if opts.Capped != nil {
		out = out.SetCapped(*opts.Capped)
	}
	if opts.SizeInBytes != nil {
		out = out.SetSizeInBytes(*opts.SizeInBytes)
	}
	if opts.MaxDocuments != nil {
		out = out.SetMaxDocuments(*opts.MaxDocuments)
	}
	if opts.Timeseries != nil {
		ts := options.TimeSeries().SetTimeField(opts.Timeseries.TimeField)
		if opts.Timeseries.MetaField != nil {
			ts = ts.SetMetaField(*opts.Timeseries.MetaField)
		}
		if opts.Timeseries.Granularity != nil {
			ts = ts.SetGranularity(*opts.Timeseries.Granularity)
		}
		out = out.SetTimeSeriesOptions(ts)
	}
	if opts.ExpireAfterSeconds != nil {
		out = out.SetExpireAfterSeconds(*opts.ExpireAfterSeconds)
	}
	if opts.ChangeStreamPreAndPostImages != nil {
		out = out.SetChangeStreamPreAndPostImages(opts.ChangeStreamPreAndPostImages)
	}
	if opts.ClusteredIndex != nil {
		out = out.SetClusteredIndex(opts.ClusteredIndex)
	}
	if opts.Validator != nil {
		out = out.SetValidator(opts.Validator)
	}
	if opts.ValidationLevel != nil {
		out = out.SetValidationLevel(*opts.ValidationLevel)
	}
	if opts.ValidationAction != nil {
		out = out.SetValidationAction(*opts.ValidationAction)
	}
	if col := collationFromRaw(opts.Collation); col != nil {
		out = out.SetCollation(col)
	}
	return out
}
