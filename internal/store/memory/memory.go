// Package memory implements the store interfaces in process.
//
// It covers the slice of MongoDB behavior the broker handlers exercise:
// equality and basic operator filters, $set/$unset/$inc updates, sort,
// skip, limit and projection, a handful of aggregation stages, unique
// indexes and snapshot-rollback transactions. Tests use it to drive the
// broker without a server.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marmos91/docbroker/internal/store"
)

// Store is an in-process document store.
type Store struct {
	mu        sync.Mutex
	databases map[string]*database
	closed    bool
}

type database struct {
	collections map[string]*collectionData
}

type collectionData struct {
	docs       []bson.Raw
	indexes    []indexSpec
	timeseries bool
}

type indexSpec struct {
	name   string
	keys   []byte // canonical marshaled key pattern
	unique bool
}

// New returns an empty store.
func New() *Store {
	return &Store{databases: make(map[string]*database)}
}

func (s *Store) NewSession(ctx context.Context) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("memory: store closed")
	}
	return &session{store: s}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory: store closed")
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Documents returns a copy of the documents currently in database/name, in
// insertion order. Test helper.
func (s *Store) Documents(database, name string) []bson.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.lookup(database, name)
	if coll == nil {
		return nil
	}
	out := make([]bson.Raw, len(coll.docs))
	copy(out, coll.docs)
	return out
}

// HasCollection reports whether database/name exists. Test helper.
func (s *Store) HasCollection(database, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(database, name) != nil
}

func (s *Store) lookup(database, name string) *collectionData {
	db, ok := s.databases[database]
	if !ok {
		return nil
	}
	return db.collections[name]
}

// ensure returns the collection, implicitly creating it the way the server
// does on first write.
func (s *Store) ensure(dbName, name string) *collectionData {
	db, ok := s.databases[dbName]
	if !ok {
		db = &database{collections: make(map[string]*collectionData)}
		s.databases[dbName] = db
	}
	coll, ok := db.collections[name]
	if !ok {
		coll = &collectionData{}
		db.collections[name] = coll
	}
	return coll
}

// snapshot copies the whole store state. Documents are immutable once
// stored, so the copy shares their backing arrays.
func (s *Store) snapshot() map[string]*database {
	out := make(map[string]*database, len(s.databases))
	for dbName, db := range s.databases {
		dbCopy := &database{collections: make(map[string]*collectionData, len(db.collections))}
		for collName, coll := range db.collections {
			collCopy := &collectionData{
				docs:       append([]bson.Raw(nil), coll.docs...),
				indexes:    append([]indexSpec(nil), coll.indexes...),
				timeseries: coll.timeseries,
			}
			dbCopy.collections[collName] = collCopy
		}
		out[dbName] = dbCopy
	}
	return out
}

type session struct {
	store  *Store
	closed bool
	inTxn  bool
}

func (s *session) Collection(database, name string) store.Collection {
	return &collection{sess: s, database: database, name: name}
}

func (s *session) CreateCollection(ctx context.Context, database, name string, opts *store.CreateCollectionOptions) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.lookup(database, name) != nil {
		return fmt.Errorf("memory: collection %s.%s already exists", database, name)
	}
	coll := s.store.ensure(database, name)
	if opts != nil && opts.Timeseries != nil {
		if opts.Timeseries.TimeField == "" {
			return errors.New("memory: timeseries requires a time field")
		}
		coll.timeseries = true
	}
	return nil
}

func (s *session) DropCollection(ctx context.Context, database, name string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if db, ok := s.store.databases[database]; ok {
		delete(db.collections, name)
	}
	return nil
}

func (s *session) RenameCollection(ctx context.Context, database, from, to string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	db, ok := s.store.databases[database]
	if !ok || db.collections[from] == nil {
		return fmt.Errorf("memory: collection %s.%s does not exist", database, from)
	}
	if db.collections[to] != nil {
		return fmt.Errorf("memory: target %s.%s already exists", database, to)
	}
	db.collections[to] = db.collections[from]
	delete(db.collections, from)
	return nil
}

func (s *session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.store.mu.Lock()
	snap := s.store.snapshot()
	s.inTxn = true
	s.store.mu.Unlock()

	err := fn(ctx)

	s.store.mu.Lock()
	s.inTxn = false
	if err != nil {
		s.store.databases = snap
	}
	s.store.mu.Unlock()
	return err
}

func (s *session) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *session) Close() {
	s.closed = true
}

type collection struct {
	sess     *session
	database string
	name     string
}

func (c *collection) data(create bool) *collectionData {
	if create {
		return c.sess.store.ensure(c.database, c.name)
	}
	return c.sess.store.lookup(c.database, c.name)
}

func (c *collection) FindOne(ctx context.Context, filter any, opts *store.FindOptions) (bson.Raw, error) {
	docs, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNoDocuments
	}
	return docs[0], nil
}

func (c *collection) Find(ctx context.Context, filter any, opts *store.FindOptions) ([]bson.Raw, error) {
	rawFilter, err := toRawDoc(filter)
	if err != nil {
		return nil, err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(false)
	if coll == nil {
		return nil, nil
	}

	var out []bson.Raw
	for _, doc := range coll.docs {
		ok, err := matches(doc, rawFilter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}

	if opts != nil {
		if opts.Sort != nil {
			if err := sortDocs(out, opts.Sort); err != nil {
				return nil, err
			}
		}
		out = applySkipLimit(out, opts.Skip, opts.Limit)
		if opts.Projection != nil {
			for i, doc := range out {
				projected, err := project(doc, opts.Projection)
				if err != nil {
					return nil, err
				}
				out[i] = projected
			}
		}
	}
	return out, nil
}

func (c *collection) InsertOne(ctx context.Context, doc any, opts *store.InsertOptions) (bson.RawValue, error) {
	raw, err := toRawDoc(doc)
	if err != nil {
		return bson.RawValue{}, err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(true)
	stored, id, err := insertInto(coll, raw)
	if err != nil {
		return bson.RawValue{}, err
	}
	coll.docs = append(coll.docs, stored)
	return id, nil
}

func (c *collection) InsertMany(ctx context.Context, docs []any, opts *store.InsertOptions) ([]bson.RawValue, error) {
	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(true)
	ids := make([]bson.RawValue, 0, len(docs))
	for _, doc := range docs {
		raw, err := toRawDoc(doc)
		if err != nil {
			return ids, err
		}
		stored, id, err := insertInto(coll, raw)
		if err != nil {
			return ids, err
		}
		coll.docs = append(coll.docs, stored)
		ids = append(ids, id)
	}
	return ids, nil
}

// insertInto normalizes the document, enforces uniqueness and returns the
// stored bytes plus the primary key. The caller holds the store lock.
func insertInto(coll *collectionData, raw bson.Raw) (bson.Raw, bson.RawValue, error) {
	id, err := raw.LookupErr("_id")
	if err != nil || id.IsZero() {
		oid := primitive.NewObjectID()
		var decoded bson.D
		if err := bson.Unmarshal(raw, &decoded); err != nil {
			return nil, bson.RawValue{}, err
		}
		decoded = append(bson.D{{Key: "_id", Value: oid}}, decoded...)
		raw, err = bson.Marshal(decoded)
		if err != nil {
			return nil, bson.RawValue{}, err
		}
		id = raw.Lookup("_id")
	}

	for _, existing := range coll.docs {
		if other, lookupErr := existing.LookupErr("_id"); lookupErr == nil && rawValueEqual(other, id) {
			return nil, bson.RawValue{}, fmt.Errorf("%w: _id", store.ErrDuplicateKey)
		}
	}
	for _, idx := range coll.indexes {
		if !idx.unique {
			continue
		}
		if err := checkUnique(coll, idx, raw); err != nil {
			return nil, bson.RawValue{}, err
		}
	}
	return raw, id, nil
}

func checkUnique(coll *collectionData, idx indexSpec, candidate bson.Raw) error {
	keyDoc := bson.Raw(idx.keys)
	elems, err := keyDoc.Elements()
	if err != nil {
		return err
	}
	tuple := func(doc bson.Raw) []bson.RawValue {
		vals := make([]bson.RawValue, 0, len(elems))
		for _, e := range elems {
			v, _ := lookupPath(doc, e.Key())
			vals = append(vals, v)
		}
		return vals
	}
	want := tuple(candidate)
	for _, existing := range coll.docs {
		got := tuple(existing)
		same := true
		for i := range want {
			if !rawValueEqual(want[i], got[i]) {
				same = false
				break
			}
		}
		if same {
			return fmt.Errorf("%w: index %s", store.ErrDuplicateKey, idx.name)
		}
	}
	return nil
}

func (c *collection) UpdateOne(ctx context.Context, filter, update any, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, false)
}

func (c *collection) UpdateMany(ctx context.Context, filter, update any, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, true)
}

func (c *collection) update(ctx context.Context, filter, update any, opts *store.UpdateOptions, many bool) (*store.UpdateResult, error) {
	rawFilter, err := toRawDoc(filter)
	if err != nil {
		return nil, err
	}
	rawUpdate, err := toRawDoc(update)
	if err != nil {
		return nil, err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	res := &store.UpdateResult{}
	coll := c.data(false)
	if coll != nil {
		for i, doc := range coll.docs {
			ok, err := matches(doc, rawFilter)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			res.MatchedCount++
			updated, changed, err := applyUpdate(doc, rawUpdate)
			if err != nil {
				return nil, err
			}
			if changed {
				coll.docs[i] = updated
				res.ModifiedCount++
			}
			if !many {
				break
			}
		}
	}

	if res.MatchedCount == 0 && opts != nil && opts.Upsert != nil && *opts.Upsert {
		seed, err := upsertSeed(rawFilter, rawUpdate)
		if err != nil {
			return nil, err
		}
		coll = c.data(true)
		stored, id, err := insertInto(coll, seed)
		if err != nil {
			return nil, err
		}
		coll.docs = append(coll.docs, stored)
		res.UpsertedID = id
	}
	return res, nil
}

func (c *collection) ReplaceOne(ctx context.Context, filter, replacement any, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	rawFilter, err := toRawDoc(filter)
	if err != nil {
		return nil, err
	}
	rawReplacement, err := toRawDoc(replacement)
	if err != nil {
		return nil, err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	res := &store.UpdateResult{}
	coll := c.data(false)
	if coll != nil {
		for i, doc := range coll.docs {
			ok, err := matches(doc, rawFilter)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			res.MatchedCount++
			replaced, err := replaceKeepingID(doc, rawReplacement)
			if err != nil {
				return nil, err
			}
			if !rawEqual(doc, replaced) {
				coll.docs[i] = replaced
				res.ModifiedCount++
			}
			break
		}
	}

	if res.MatchedCount == 0 && opts != nil && opts.Upsert != nil && *opts.Upsert {
		coll = c.data(true)
		stored, id, err := insertInto(coll, rawReplacement)
		if err != nil {
			return nil, err
		}
		coll.docs = append(coll.docs, stored)
		res.UpsertedID = id
	}
	return res, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter any, opts *store.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *collection) DeleteMany(ctx context.Context, filter any, opts *store.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, true)
}

func (c *collection) delete(ctx context.Context, filter any, many bool) (int64, error) {
	rawFilter, err := toRawDoc(filter)
	if err != nil {
		return 0, err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(false)
	if coll == nil {
		return 0, nil
	}

	var deleted int64
	kept := coll.docs[:0]
	for _, doc := range coll.docs {
		ok, err := matches(doc, rawFilter)
		if err != nil {
			return deleted, err
		}
		if ok && (many || deleted == 0) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	coll.docs = kept
	return deleted, nil
}

func (c *collection) CountDocuments(ctx context.Context, filter any, opts *store.CountOptions) (int64, error) {
	findOpts := &store.FindOptions{}
	if opts != nil {
		findOpts.Limit = opts.Limit
		findOpts.Skip = opts.Skip
	}
	docs, err := c.Find(ctx, filter, findOpts)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *collection) Distinct(ctx context.Context, field string, filter any) ([]bson.RawValue, error) {
	docs, err := c.Find(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	var out []bson.RawValue
	for _, doc := range docs {
		v, ok := lookupPath(doc, field)
		if !ok {
			continue
		}
		seen := false
		for _, existing := range out {
			if rawValueEqual(existing, v) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *collection) Aggregate(ctx context.Context, pipeline any) ([]bson.Raw, error) {
	stages, err := pipelineStages(pipeline)
	if err != nil {
		return nil, err
	}

	docs, err := c.Find(ctx, bson.D{}, nil)
	if err != nil {
		return nil, err
	}

	for _, stage := range stages {
		elems, err := stage.Elements()
		if err != nil {
			return nil, err
		}
		if len(elems) != 1 {
			return nil, fmt.Errorf("memory: pipeline stage must have exactly one operator")
		}
		op := elems[0]
		switch op.Key() {
		case "$match":
			filter, ok := op.Value().DocumentOK()
			if !ok {
				return nil, errors.New("memory: $match expects a document")
			}
			var kept []bson.Raw
			for _, doc := range docs {
				ok, err := matches(doc, filter)
				if err != nil {
					return nil, err
				}
				if ok {
					kept = append(kept, doc)
				}
			}
			docs = kept
		case "$sort":
			spec, ok := op.Value().DocumentOK()
			if !ok {
				return nil, errors.New("memory: $sort expects a document")
			}
			if err := sortDocs(docs, spec); err != nil {
				return nil, err
			}
		case "$skip":
			n, ok := asInt64(op.Value())
			if !ok {
				return nil, errors.New("memory: $skip expects a number")
			}
			docs = applySkipLimit(docs, &n, nil)
		case "$limit":
			n, ok := asInt64(op.Value())
			if !ok {
				return nil, errors.New("memory: $limit expects a number")
			}
			docs = applySkipLimit(docs, nil, &n)
		case "$count":
			field, ok := op.Value().StringValueOK()
			if !ok {
				return nil, errors.New("memory: $count expects a field name")
			}
			counted, err := bson.Marshal(bson.D{{Key: field, Value: int32(len(docs))}})
			if err != nil {
				return nil, err
			}
			docs = []bson.Raw{counted}
		case "$project":
			spec, ok := op.Value().DocumentOK()
			if !ok {
				return nil, errors.New("memory: $project expects a document")
			}
			for i, doc := range docs {
				projected, err := project(doc, spec)
				if err != nil {
					return nil, err
				}
				docs[i] = projected
			}
		default:
			return nil, fmt.Errorf("memory: unsupported pipeline stage %q", op.Key())
		}
	}
	return docs, nil
}

func (c *collection) CreateIndex(ctx context.Context, keys any, opts *store.IndexOptions) (string, error) {
	keyBytes, err := toRawDoc(keys)
	if err != nil {
		return "", err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(true)
	for _, idx := range coll.indexes {
		if rawEqual(bson.Raw(idx.keys), keyBytes) {
			return idx.name, nil
		}
	}

	name := ""
	if opts != nil && opts.Name != nil {
		name = *opts.Name
	}
	if name == "" {
		name, err = deriveIndexName(keyBytes)
		if err != nil {
			return "", err
		}
	}
	unique := opts != nil && opts.Unique != nil && *opts.Unique
	coll.indexes = append(coll.indexes, indexSpec{name: name, keys: keyBytes, unique: unique})
	return name, nil
}

func (c *collection) DropIndex(ctx context.Context, name string) error {
	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(false)
	if coll == nil {
		return fmt.Errorf("memory: index %q not found", name)
	}
	for i, idx := range coll.indexes {
		if idx.name == name {
			coll.indexes = append(coll.indexes[:i], coll.indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memory: index %q not found", name)
}

func (c *collection) DropIndexBySpec(ctx context.Context, keys any) error {
	keyBytes, err := toRawDoc(keys)
	if err != nil {
		return err
	}

	c.sess.store.mu.Lock()
	defer c.sess.store.mu.Unlock()

	coll := c.data(false)
	if coll == nil {
		return errors.New("memory: index not found")
	}
	for i, idx := range coll.indexes {
		if rawEqual(bson.Raw(idx.keys), keyBytes) {
			coll.indexes = append(coll.indexes[:i], coll.indexes[i+1:]...)
			return nil
		}
	}
	return errors.New("memory: index not found")
}

// IndexNames returns the names of the indexes on database/name. Test helper.
func (s *Store) IndexNames(database, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.lookup(database, name)
	if coll == nil {
		return nil
	}
	out := make([]string, 0, len(coll.indexes))
	for _, idx := range coll.indexes {
		out = append(out, idx.name)
	}
	return out
}

func deriveIndexName(keys bson.Raw) (string, error) {
	elems, err := keys.Elements()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		dir := "1"
		if n, ok := asInt64(e.Value()); ok && n < 0 {
			dir = "-1"
		} else if s, ok := e.Value().StringValueOK(); ok {
			dir = s
		}
		parts = append(parts, e.Key()+"_"+dir)
	}
	return strings.Join(parts, "_"), nil
}

// --- document helpers ---

func toRawDoc(v any) (bson.Raw, error) {
	switch d := v.(type) {
	case nil:
		return bson.Raw(nil), nil
	case bson.Raw:
		return d, nil
	default:
		return bson.Marshal(v)
	}
}

func pipelineStages(pipeline any) ([]bson.Raw, error) {
	var arr bson.Raw
	switch p := pipeline.(type) {
	case bson.RawValue:
		a, ok := p.ArrayOK()
		if !ok {
			return nil, errors.New("memory: pipeline must be an array")
		}
		arr = bson.Raw(a)
	default:
		t, data, err := bson.MarshalValue(pipeline)
		if err != nil {
			return nil, err
		}
		if t != bson.TypeArray {
			return nil, errors.New("memory: pipeline must be an array")
		}
		arr = data
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, err
	}
	stages := make([]bson.Raw, 0, len(vals))
	for _, v := range vals {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, errors.New("memory: pipeline stage must be a document")
		}
		stages = append(stages, doc)
	}
	return stages, nil
}

func lookupPath(doc bson.Raw, path string) (bson.RawValue, bool) {
	v, err := doc.LookupErr(strings.Split(path, ".")...)
	if err != nil {
		return bson.RawValue{}, false
	}
	return v, true
}

// matches evaluates a filter against a document. Values that are documents
// with $-prefixed keys are treated as operator expressions.
func matches(doc, filter bson.Raw) (bool, error) {
	if filter == nil {
		return true, nil
	}
	elems, err := filter.Elements()
	if err != nil {
		return false, err
	}
	for _, e := range elems {
		ok, err := matchField(doc, e.Key(), e.Value())
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchField(doc bson.Raw, path string, cond bson.RawValue) (bool, error) {
	if expr, ok := cond.DocumentOK(); ok && isOperatorDoc(expr) {
		return matchOperators(doc, path, expr)
	}
	v, present := lookupPath(doc, path)
	if !present {
		return false, nil
	}
	return rawValueEqual(v, cond), nil
}

func isOperatorDoc(doc bson.Raw) bool {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return false
	}
	return strings.HasPrefix(elems[0].Key(), "$")
}

func matchOperators(doc bson.Raw, path string, expr bson.Raw) (bool, error) {
	elems, err := expr.Elements()
	if err != nil {
		return false, err
	}
	v, present := lookupPath(doc, path)
	for _, e := range elems {
		switch e.Key() {
		case "$eq":
			if !present || !rawValueEqual(v, e.Value()) {
				return false, nil
			}
		case "$ne":
			if present && rawValueEqual(v, e.Value()) {
				return false, nil
			}
		case "$exists":
			want, _ := e.Value().BooleanOK()
			if present != want {
				return false, nil
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false, nil
			}
			cmp, cmpOK := compareRawValues(v, e.Value())
			if !cmpOK {
				return false, nil
			}
			switch e.Key() {
			case "$gt":
				if cmp <= 0 {
					return false, nil
				}
			case "$gte":
				if cmp < 0 {
					return false, nil
				}
			case "$lt":
				if cmp >= 0 {
					return false, nil
				}
			case "$lte":
				if cmp > 0 {
					return false, nil
				}
			}
		case "$in":
			if !present {
				return false, nil
			}
			arr, ok := e.Value().ArrayOK()
			if !ok {
				return false, fmt.Errorf("memory: $in expects an array")
			}
			vals, err := bson.Raw(arr).Values()
			if err != nil {
				return false, err
			}
			found := false
			for _, candidate := range vals {
				if rawValueEqual(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("memory: unsupported filter operator %q", e.Key())
		}
	}
	return true, nil
}

func rawValueEqual(a, b bson.RawValue) bool {
	if cmp, ok := compareRawValues(a, b); ok {
		return cmp == 0
	}
	return a.Type == b.Type && string(a.Value) == string(b.Value)
}

// compareRawValues orders two values when they share a comparable domain.
// Numbers compare across int32/int64/double.
func compareRawValues(a, b bson.RawValue) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case bson.TypeString:
		as, _ := a.StringValueOK()
		bs, _ := b.StringValueOK()
		return strings.Compare(as, bs), true
	case bson.TypeDateTime:
		at, _ := a.DateTimeOK()
		bt, _ := b.DateTimeOK()
		switch {
		case at < bt:
			return -1, true
		case at > bt:
			return 1, true
		default:
			return 0, true
		}
	case bson.TypeObjectID:
		ao, _ := a.ObjectIDOK()
		bo, _ := b.ObjectIDOK()
		return strings.Compare(string(ao[:]), string(bo[:])), true
	case bson.TypeBoolean:
		ab, _ := a.BooleanOK()
		bb, _ := b.BooleanOK()
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		default:
			return 1, true
		}
	default:
		if string(a.Value) == string(b.Value) {
			return 0, true
		}
		return 0, false
	}
}

func asFloat(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		i, _ := v.Int32OK()
		return float64(i), true
	case bson.TypeInt64:
		i, _ := v.Int64OK()
		return float64(i), true
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		return f, true
	default:
		return 0, false
	}
}

func asInt64(v bson.RawValue) (int64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		i, _ := v.Int32OK()
		return int64(i), true
	case bson.TypeInt64:
		return v.Int64OK()
	case bson.TypeDouble:
		f, _ := v.DoubleOK()
		return int64(f), true
	default:
		return 0, false
	}
}

func sortDocs(docs []bson.Raw, spec bson.Raw) error {
	elems, err := spec.Elements()
	if err != nil {
		return err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, e := range elems {
			dir := int64(1)
			if n, ok := asInt64(e.Value()); ok {
				dir = n
			}
			a, _ := lookupPath(docs[i], e.Key())
			b, _ := lookupPath(docs[j], e.Key())
			cmp, ok := compareRawValues(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if dir < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func applySkipLimit(docs []bson.Raw, skip, limit *int64) []bson.Raw {
	if skip != nil && *skip > 0 {
		if int64(len(docs)) <= *skip {
			return nil
		}
		docs = docs[*skip:]
	}
	if limit != nil && *limit > 0 && int64(len(docs)) > *limit {
		docs = docs[:*limit]
	}
	return docs
}

// project applies a top-level inclusion or exclusion projection.
func project(doc, spec bson.Raw) (bson.Raw, error) {
	specElems, err := spec.Elements()
	if err != nil {
		return nil, err
	}

	include := make(map[string]bool, len(specElems))
	inclusion := false
	excludeID := false
	for _, e := range specElems {
		on := true
		if n, ok := asInt64(e.Value()); ok {
			on = n != 0
		} else if b, ok := e.Value().BooleanOK(); ok {
			on = b
		}
		if e.Key() == "_id" && !on {
			excludeID = true
			continue
		}
		include[e.Key()] = on
		if on {
			inclusion = true
		}
	}

	docElems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := bson.D{}
	for _, e := range docElems {
		key := e.Key()
		if key == "_id" {
			if !excludeID {
				out = append(out, bson.E{Key: key, Value: e.Value()})
			}
			continue
		}
		on, listed := include[key]
		if inclusion {
			if listed && on {
				out = append(out, bson.E{Key: key, Value: e.Value()})
			}
		} else if !listed || on {
			out = append(out, bson.E{Key: key, Value: e.Value()})
		}
	}
	return bson.Marshal(out)
}

// applyUpdate applies $set, $unset and $inc operators and returns the
// rebuilt document.
func applyUpdate(doc, update bson.Raw) (bson.Raw, bool, error) {
	var decoded bson.D
	if err := bson.Unmarshal(doc, &decoded); err != nil {
		return nil, false, err
	}

	ops, err := update.Elements()
	if err != nil {
		return nil, false, err
	}
	for _, op := range ops {
		fields, ok := op.Value().DocumentOK()
		if !ok {
			return nil, false, fmt.Errorf("memory: update operator %q expects a document", op.Key())
		}
		fieldElems, err := fields.Elements()
		if err != nil {
			return nil, false, err
		}
		switch op.Key() {
		case "$set":
			for _, f := range fieldElems {
				decoded = setPath(decoded, strings.Split(f.Key(), "."), f.Value())
			}
		case "$unset":
			for _, f := range fieldElems {
				decoded = unsetPath(decoded, strings.Split(f.Key(), "."))
			}
		case "$inc":
			for _, f := range fieldElems {
				delta, ok := asFloat(f.Value())
				if !ok {
					return nil, false, fmt.Errorf("memory: $inc expects a number for %q", f.Key())
				}
				decoded, err = incPath(decoded, strings.Split(f.Key(), "."), delta, f.Value())
				if err != nil {
					return nil, false, err
				}
			}
		default:
			return nil, false, fmt.Errorf("memory: unsupported update operator %q", op.Key())
		}
	}

	rebuilt, err := bson.Marshal(decoded)
	if err != nil {
		return nil, false, err
	}
	return rebuilt, !rawEqual(doc, rebuilt), nil
}

func setPath(d bson.D, parts []string, val bson.RawValue) bson.D {
	key := parts[0]
	for i, e := range d {
		if e.Key != key {
			continue
		}
		if len(parts) == 1 {
			d[i].Value = val
			return d
		}
		if sub, ok := e.Value.(bson.D); ok {
			d[i].Value = setPath(sub, parts[1:], val)
			return d
		}
		d[i].Value = setPath(bson.D{}, parts[1:], val)
		return d
	}
	if len(parts) == 1 {
		return append(d, bson.E{Key: key, Value: val})
	}
	return append(d, bson.E{Key: key, Value: setPath(bson.D{}, parts[1:], val)})
}

func unsetPath(d bson.D, parts []string) bson.D {
	key := parts[0]
	for i, e := range d {
		if e.Key != key {
			continue
		}
		if len(parts) == 1 {
			return append(d[:i], d[i+1:]...)
		}
		if sub, ok := e.Value.(bson.D); ok {
			d[i].Value = unsetPath(sub, parts[1:])
		}
		return d
	}
	return d
}

func incPath(d bson.D, parts []string, delta float64, raw bson.RawValue) (bson.D, error) {
	key := parts[0]
	for i, e := range d {
		if e.Key != key {
			continue
		}
		if len(parts) > 1 {
			sub, ok := e.Value.(bson.D)
			if !ok {
				return nil, fmt.Errorf("memory: $inc path %q crosses a non-document", key)
			}
			updated, err := incPath(sub, parts[1:], delta, raw)
			if err != nil {
				return nil, err
			}
			d[i].Value = updated
			return d, nil
		}
		switch current := e.Value.(type) {
		case int32:
			d[i].Value = current + int32(delta)
		case int64:
			d[i].Value = current + int64(delta)
		case float64:
			d[i].Value = current + delta
		default:
			return nil, fmt.Errorf("memory: $inc target %q is not a number", key)
		}
		return d, nil
	}
	if len(parts) == 1 {
		return append(d, bson.E{Key: key, Value: raw}), nil
	}
	sub, err := incPath(bson.D{}, parts[1:], delta, raw)
	if err != nil {
		return nil, err
	}
	return append(d, bson.E{Key: key, Value: sub}), nil
}

func replaceKeepingID(doc, replacement bson.Raw) (bson.Raw, error) {
	id, err := doc.LookupErr("_id")
	if err != nil {
		return nil, err
	}
	var decoded bson.D
	if err := bson.Unmarshal(replacement, &decoded); err != nil {
		return nil, err
	}
	out := bson.D{{Key: "_id", Value: id}}
	for _, e := range decoded {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	return bson.Marshal(out)
}

// upsertSeed builds the document an upserted update produces: equality
// filter fields merged with the $set fields.
func upsertSeed(filter, update bson.Raw) (bson.Raw, error) {
	seed := bson.D{}
	if filter != nil {
		elems, err := filter.Elements()
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			if expr, ok := e.Value().DocumentOK(); ok && isOperatorDoc(expr) {
				continue
			}
			if strings.Contains(e.Key(), ".") {
				continue
			}
			seed = append(seed, bson.E{Key: e.Key(), Value: e.Value()})
		}
	}
	if set, ok := update.Lookup("$set").DocumentOK(); ok {
		elems, err := set.Elements()
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			seed = setPath(seed, strings.Split(e.Key(), "."), e.Value())
		}
	}
	return bson.Marshal(seed)
}

func rawEqual(a, b bson.Raw) bool {
	return string(a) == string(b)
}
