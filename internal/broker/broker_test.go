package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marmos91/docbroker/internal/history"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/internal/store/memory"
)

const (
	testDB   = "itest"
	testColl = "test"
	vhDB     = "vhdb"
	vhColl   = "vhcoll"
)

var oid1 = mustOID("507f1f77bcf86cd799439011")

func mustOID(hex string) primitive.ObjectID {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic(err)
	}
	return oid
}

type captureRecorder struct {
	mu      sync.Mutex
	metrics []*model.Metric
}

func (c *captureRecorder) Observe(m *model.Metric) {
	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	c.mu.Unlock()
}

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.metrics)
}

type fixture struct {
	dispatcher *Dispatcher
	store      *memory.Store
	pool       *pool.Pool
	recorder   *captureRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	p := pool.New(context.Background(), st, pool.Config{MaxConnections: 4})
	t.Cleanup(p.Close)

	rec := &captureRecorder{}
	hw := history.NewWriter(model.Location{Database: vhDB, Collection: vhColl})
	d := New(p, hw, Options{Recorder: rec})
	t.Cleanup(d.Close)
	return &fixture{dispatcher: d, store: st, pool: p, recorder: rec}
}

func (f *fixture) dispatch(t *testing.T, req bson.D) bson.Raw {
	t.Helper()
	frame, err := bson.Marshal(req)
	require.NoError(t, err)
	return f.dispatcher.Dispatch(context.Background(), frame)
}

func request(action string, document bson.D, extra ...bson.E) bson.D {
	req := bson.D{
		{Key: "action", Value: action},
		{Key: "database", Value: testDB},
		{Key: "collection", Value: testColl},
		{Key: "document", Value: document},
	}
	return append(req, extra...)
}

func errorMessage(resp bson.Raw) string {
	msg, _ := model.LookupString(resp, "error")
	return msg
}

func historyRecords(f *fixture) []bson.Raw {
	return f.store.Documents(vhDB, vhColl)
}

func TestCreateThenRetrieveByID(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))
	assert.Empty(t, errorMessage(resp))
	assert.Equal(t, vhDB, resp.Lookup("database").StringValue())
	assert.Equal(t, vhColl, resp.Lookup("collection").StringValue())
	assert.Equal(t, oid1, resp.Lookup("entity").ObjectID())
	assert.False(t, resp.Lookup("_id").ObjectID().IsZero())

	records := historyRecords(f)
	require.Len(t, records, 1)
	assert.Equal(t, "create", records[0].Lookup("action").StringValue())
	assert.Equal(t, oid1, records[0].Lookup("entity", "_id").ObjectID())

	resp = f.dispatch(t, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, "value", resp.Lookup("result", "key").StringValue())
}

func TestRetrieveByProperty(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))

	resp := f.dispatch(t, request("retrieve", bson.D{{Key: "key", Value: "value"}}))
	results, ok := model.LookupArray(resp, "results")
	require.True(t, ok)
	values, err := model.ArrayValues(results)
	require.NoError(t, err)
	require.Len(t, values, 1)
	doc, _ := values[0].DocumentOK()
	assert.Equal(t, oid1, doc.Lookup("_id").ObjectID())
}

func TestRetrieveNoMatch(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, MsgNotFound, errorMessage(resp))

	// A property filter that matches nothing is an empty list, not an error.
	resp = f.dispatch(t, request("retrieve", bson.D{{Key: "key", Value: "nope"}}))
	assert.Empty(t, errorMessage(resp))
	results, ok := model.LookupArray(resp, "results")
	require.True(t, ok)
	values, err := model.ArrayValues(results)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestRetrieveEmptyFilterRejected(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))

	resp := f.dispatch(t, request("retrieve", bson.D{}))
	assert.Equal(t, MsgMissingFields, errorMessage(resp))
	fields, ok := model.LookupArray(resp, "fields")
	require.True(t, ok)
	values, err := model.ArrayValues(fields)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "document", values[0].StringValue())
}

func TestCreateMissingID(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("create", bson.D{{Key: "key", Value: "value"}}))
	assert.Equal(t, MsgMissingID, errorMessage(resp))
	assert.Empty(t, historyRecords(f))
}

func TestCreateSkipVersion(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}},
		bson.E{Key: "skipVersion", Value: true}))

	skip, ok := model.LookupBool(resp, "skipVersion")
	require.True(t, ok)
	assert.True(t, skip)
	assert.Equal(t, oid1, resp.Lookup("entity").ObjectID())
	assert.Empty(t, historyRecords(f))
}

func TestCreateDuplicateIsInsertError(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}}))
	resp := f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, MsgInsertError, errorMessage(resp))
	assert.Len(t, historyRecords(f), 1)
}

func TestCreateRecordsMetadata(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}},
		bson.E{Key: "metadata", Value: bson.D{{Key: "revision", Value: int32(7)}}}))

	records := historyRecords(f)
	require.Len(t, records, 1)
	assert.Equal(t, int32(7), records[0].Lookup("metadata", "revision").Int32())
}

func TestUpdateMergeByID(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))

	resp := f.dispatch(t, request("update", bson.D{{Key: "_id", Value: oid1}, {Key: "key1", Value: "value1"}}))
	assert.Empty(t, errorMessage(resp))
	assert.Equal(t, "value", resp.Lookup("document", "key").StringValue())
	assert.Equal(t, "value1", resp.Lookup("document", "key1").StringValue())
	assert.False(t, resp.Lookup("history").ObjectID().IsZero())

	// create + update
	records := historyRecords(f)
	require.Len(t, records, 2)
	assert.Equal(t, "update", records[1].Lookup("action").StringValue())
}

func TestUpdateSkipVersion(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))

	resp := f.dispatch(t, request("update", bson.D{{Key: "_id", Value: oid1}, {Key: "key1", Value: "value1"}},
		bson.E{Key: "skipVersion", Value: true}))

	skip, ok := model.LookupBool(resp, "skipVersion")
	require.True(t, ok)
	assert.True(t, skip)
	_, hasDoc := model.LookupDocument(resp, "document")
	assert.False(t, hasDoc)
	assert.Len(t, historyRecords(f), 1) // only the create

	// the write itself still happened
	retrieved := f.dispatch(t, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, "value1", retrieved.Lookup("result", "key1").StringValue())
}

func TestUpdateNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("update", bson.D{{Key: "_id", Value: oid1}, {Key: "k", Value: "v"}}))
	assert.Equal(t, MsgNotFound, errorMessage(resp))
}

func TestUpdateInvalidShape(t *testing.T) {
	f := newFixture(t)

	// no _id, no filter
	resp := f.dispatch(t, request("update", bson.D{{Key: "key", Value: "value"}}))
	assert.Equal(t, MsgInvalidUpdate, errorMessage(resp))

	// filter without update or replace
	resp = f.dispatch(t, request("update", bson.D{{Key: "filter", Value: bson.D{{Key: "k", Value: "v"}}}}))
	assert.Equal(t, MsgInvalidUpdate, errorMessage(resp))

	// _id only, nothing to set
	resp = f.dispatch(t, request("update", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, MsgInvalidUpdate, errorMessage(resp))
}

func TestUpdateReplace(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "old", Value: true}}))

	resp := f.dispatch(t, request("update", bson.D{
		{Key: "filter", Value: bson.D{{Key: "old", Value: true}}},
		{Key: "replace", Value: bson.D{{Key: "fresh", Value: true}}},
	}))
	assert.Empty(t, errorMessage(resp))
	assert.True(t, resp.Lookup("document", "fresh").Boolean())
	_, hasOld := model.LookupRawValue(resp.Lookup("document").Document(), "old")
	assert.False(t, hasOld)

	records := historyRecords(f)
	require.Len(t, records, 2)
	assert.True(t, records[1].Lookup("entity", "fresh").Boolean())
}

func TestUpdateReplaceNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("update", bson.D{
		{Key: "filter", Value: bson.D{{Key: "missing", Value: true}}},
		{Key: "replace", Value: bson.D{{Key: "fresh", Value: true}}},
	}))
	assert.Equal(t, MsgNotFound, errorMessage(resp))
}

func TestUpdateMany(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "a"}, {Key: "kind", Value: "x"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "b"}, {Key: "kind", Value: "x"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "c"}, {Key: "kind", Value: "y"}}))

	resp := f.dispatch(t, request("update", bson.D{
		{Key: "filter", Value: bson.D{{Key: "kind", Value: "x"}}},
		{Key: "update", Value: bson.D{{Key: "seen", Value: true}}},
	}))
	assert.Empty(t, errorMessage(resp))

	success, _ := model.LookupArray(resp, "success")
	successIDs, err := model.ArrayValues(success)
	require.NoError(t, err)
	assert.Len(t, successIDs, 2)

	histIDs, _ := model.LookupArray(resp, "history")
	hist, err := model.ArrayValues(histIDs)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	// 3 creates + 2 updates
	assert.Len(t, historyRecords(f), 5)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))

	resp := f.dispatch(t, request("delete", bson.D{{Key: "_id", Value: oid1}}))
	assert.Empty(t, errorMessage(resp))

	success, _ := model.LookupArray(resp, "success")
	ids, err := model.ArrayValues(success)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, oid1, ids[0].ObjectID())

	histArr, _ := model.LookupArray(resp, "history")
	hist, err := model.ArrayValues(histArr)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	// pre-state snapshot
	records := historyRecords(f)
	require.Len(t, records, 2)
	assert.Equal(t, "delete", records[1].Lookup("action").StringValue())
	assert.Equal(t, "value", records[1].Lookup("entity", "key").StringValue())

	resp = f.dispatch(t, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, MsgNotFound, errorMessage(resp))
}

func TestDeleteNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("delete", bson.D{{Key: "_id", Value: oid1}}))
	assert.Equal(t, MsgNotFound, errorMessage(resp))
}

func TestDeleteManyByProperty(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "a"}, {Key: "kind", Value: "x"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "b"}, {Key: "kind", Value: "x"}}))

	resp := f.dispatch(t, request("delete", bson.D{{Key: "kind", Value: "x"}}))
	success, _ := model.LookupArray(resp, "success")
	ids, err := model.ArrayValues(success)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Empty(t, f.store.Documents(testDB, testColl))
}

func TestCount(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "a"}, {Key: "kind", Value: "x"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "b"}, {Key: "kind", Value: "y"}}))

	resp := f.dispatch(t, request("count", bson.D{{Key: "kind", Value: "x"}}))
	count, ok := model.LookupInt64(resp, "count")
	require.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestDistinct(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "a"}, {Key: "tag", Value: "one"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "b"}, {Key: "tag", Value: "one"}}))
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "c"}, {Key: "tag", Value: "two"}}))

	resp := f.dispatch(t, request("distinct", bson.D{{Key: "field", Value: "tag"}}))
	values, _ := model.LookupArray(resp, "values")
	vals, err := model.ArrayValues(values)
	require.NoError(t, err)
	assert.Len(t, vals, 2)

	resp = f.dispatch(t, request("distinct", bson.D{}))
	assert.Equal(t, MsgMissingFields, errorMessage(resp))
}

func TestPipeline(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 4; i++ {
		f.dispatch(t, request("create", bson.D{{Key: "_id", Value: int32(i)}, {Key: "n", Value: int32(i)}}))
	}

	resp := f.dispatch(t, request("pipeline", bson.D{{Key: "specification", Value: bson.A{
		bson.D{{Key: "$match", Value: bson.D{{Key: "n", Value: bson.D{{Key: "$gte", Value: int32(3)}}}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "n", Value: int32(-1)}}}},
	}}}))
	results, _ := model.LookupArray(resp, "results")
	docs, err := model.ArrayValues(results)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	first, _ := docs[0].DocumentOK()
	assert.Equal(t, int32(4), first.Lookup("n").Int32())
}

func TestBulkInsertThenDelete(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("bulk", bson.D{{Key: "insert", Value: bson.A{
		bson.D{{Key: "_id", Value: "a"}, {Key: "n", Value: int32(1)}},
		bson.D{{Key: "_id", Value: "b"}, {Key: "n", Value: int32(2)}},
	}}}))
	assert.Empty(t, errorMessage(resp))
	created, ok := model.LookupInt32(resp, "create")
	require.True(t, ok)
	assert.Equal(t, int32(2), created)
	_, hasDelete := model.LookupInt32(resp, "delete")
	assert.False(t, hasDelete)

	hc, _ := model.LookupDocument(resp, "history")
	createdIDs, _ := model.LookupArray(hc, "created")
	ids, err := model.ArrayValues(createdIDs)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	resp = f.dispatch(t, request("bulk", bson.D{{Key: "delete", Value: bson.A{
		bson.D{{Key: "_id", Value: "a"}},
		bson.D{{Key: "_id", Value: "b"}},
	}}}))
	deleted, ok := model.LookupInt32(resp, "delete")
	require.True(t, ok)
	assert.Equal(t, int32(2), deleted)
	_, hasCreate := model.LookupInt32(resp, "create")
	assert.False(t, hasCreate)

	// 2 create + 2 delete audit records
	assert.Len(t, historyRecords(f), 4)
	assert.Empty(t, f.store.Documents(testDB, testColl))
}

func TestBulkEmpty(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("bulk", bson.D{}))
	assert.Equal(t, MsgMissingFields, errorMessage(resp))
}

func TestTransactionCreateCreateDeleteDelete(t *testing.T) {
	f := newFixture(t)
	oid2 := primitive.NewObjectID()

	item := func(action string, doc bson.D) bson.D {
		return bson.D{
			{Key: "action", Value: action},
			{Key: "database", Value: testDB},
			{Key: "collection", Value: testColl},
			{Key: "document", Value: doc},
		}
	}

	resp := f.dispatch(t, request("transaction", bson.D{{Key: "items", Value: bson.A{
		item("create", bson.D{{Key: "_id", Value: oid1}, {Key: "n", Value: int32(1)}}),
		item("create", bson.D{{Key: "_id", Value: oid2}, {Key: "n", Value: int32(2)}}),
		item("delete", bson.D{{Key: "_id", Value: oid1}}),
		item("delete", bson.D{{Key: "_id", Value: oid2}}),
	}}}))
	assert.Empty(t, errorMessage(resp))

	created, _ := model.LookupInt32(resp, "created")
	updated, _ := model.LookupInt32(resp, "updated")
	deleted, _ := model.LookupInt32(resp, "deleted")
	assert.Equal(t, int32(2), created)
	assert.Equal(t, int32(0), updated)
	assert.Equal(t, int32(2), deleted)

	hist, _ := model.LookupDocument(resp, "history")
	assert.Equal(t, vhDB, hist.Lookup("database").StringValue())
	assert.Equal(t, vhColl, hist.Lookup("collection").StringValue())
	createdIDs, _ := model.LookupArray(hist, "created")
	deletedIDs, _ := model.LookupArray(hist, "deleted")
	cv, err := model.ArrayValues(createdIDs)
	require.NoError(t, err)
	dv, err := model.ArrayValues(deletedIDs)
	require.NoError(t, err)
	assert.Len(t, cv, 2)
	assert.Len(t, dv, 2)

	assert.Len(t, historyRecords(f), 4)
	assert.Empty(t, f.store.Documents(testDB, testColl))
}

func TestTransactionAbortsOnBadItem(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("transaction", bson.D{{Key: "items", Value: bson.A{
		bson.D{
			{Key: "action", Value: "create"},
			{Key: "database", Value: testDB},
			{Key: "collection", Value: testColl},
			{Key: "document", Value: bson.D{{Key: "_id", Value: oid1}}},
		},
		bson.D{
			{Key: "action", Value: "count"}, // not allowed inside a transaction
			{Key: "database", Value: testDB},
			{Key: "collection", Value: testColl},
			{Key: "document", Value: bson.D{}},
		},
	}}}))
	assert.Equal(t, MsgTransactionError, errorMessage(resp))

	// the first item must have been rolled back
	assert.Empty(t, f.store.Documents(testDB, testColl))
	assert.Empty(t, historyRecords(f))
}

func TestTransactionRejectsHistoryLocation(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("transaction", bson.D{{Key: "items", Value: bson.A{
		bson.D{
			{Key: "action", Value: "create"},
			{Key: "database", Value: vhDB},
			{Key: "collection", Value: vhColl},
			{Key: "document", Value: bson.D{{Key: "_id", Value: oid1}}},
		},
	}}}))
	assert.Equal(t, MsgTransactionError, errorMessage(resp))
	assert.Empty(t, historyRecords(f))
}

func TestTransactionUpdateItemIsNoop(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: "a"}, {Key: "n", Value: int32(1)}}))

	resp := f.dispatch(t, request("transaction", bson.D{{Key: "items", Value: bson.A{
		bson.D{
			{Key: "action", Value: "update"},
			{Key: "database", Value: testDB},
			{Key: "collection", Value: testColl},
			{Key: "document", Value: bson.D{{Key: "_id", Value: "a"}, {Key: "n", Value: int32(9)}}},
		},
	}}}))
	assert.Empty(t, errorMessage(resp))
	updated, _ := model.LookupInt32(resp, "updated")
	assert.Equal(t, int32(0), updated)

	// the document is untouched
	docs := f.store.Documents(testDB, testColl)
	require.Len(t, docs, 1)
	assert.Equal(t, int32(1), docs[0].Lookup("n").Int32())
}

func TestIndexAndDropIndex(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("index", bson.D{{Key: "email", Value: int32(1)}},
		bson.E{Key: "options", Value: bson.D{{Key: "unique", Value: true}}}))
	assert.Equal(t, "email_1", resp.Lookup("name").StringValue())

	// idempotent: same spec answers the existing name
	resp = f.dispatch(t, request("index", bson.D{{Key: "email", Value: int32(1)}}))
	assert.Equal(t, "email_1", resp.Lookup("name").StringValue())

	resp = f.dispatch(t, request("dropIndex", bson.D{{Key: "name", Value: "email_1"}}))
	assert.True(t, resp.Lookup("success").Boolean())
	assert.Empty(t, f.store.IndexNames(testDB, testColl))
}

func TestDropIndexBySpecification(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("index", bson.D{{Key: "n", Value: int32(1)}}))

	resp := f.dispatch(t, request("dropIndex", bson.D{
		{Key: "specification", Value: bson.D{{Key: "n", Value: int32(1)}}},
	}))
	assert.True(t, resp.Lookup("success").Boolean())
}

func TestCollectionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, request("createCollection", bson.D{}))
	assert.True(t, resp.Lookup("success").Boolean())
	assert.True(t, f.store.HasCollection(testDB, testColl))

	resp = f.dispatch(t, request("renameCollection", bson.D{{Key: "to", Value: "renamed"}}))
	assert.True(t, resp.Lookup("success").Boolean())
	assert.True(t, f.store.HasCollection(testDB, "renamed"))

	resp = f.dispatch(t, request("dropCollection", bson.D{}))
	// original name is gone already; memory store treats drop as idempotent
	assert.True(t, resp.Lookup("success").Boolean())
}

func TestRenameCollectionRepointsHistory(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}}))

	resp := f.dispatch(t, request("renameCollection", bson.D{{Key: "to", Value: "renamed"}}))
	assert.True(t, resp.Lookup("success").Boolean())

	f.dispatcher.Close() // wait for the out-of-band fixup
	records := historyRecords(f)
	require.Len(t, records, 1)
	assert.Equal(t, "renamed", records[0].Lookup("collection").StringValue())
}

func TestDropCollectionClearsHistory(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}}))
	require.Len(t, historyRecords(f), 1)

	resp := f.dispatch(t, request("dropCollection", bson.D{{Key: "clearVersionHistory", Value: true}}))
	assert.True(t, resp.Lookup("success").Boolean())

	f.dispatcher.Close() // wait for the out-of-band purge
	assert.Empty(t, historyRecords(f))
}

func TestRenameToHistoryLocationRejected(t *testing.T) {
	f := newFixture(t)
	req := bson.D{
		{Key: "action", Value: "renameCollection"},
		{Key: "database", Value: vhDB},
		{Key: "collection", Value: "other"},
		{Key: "document", Value: bson.D{{Key: "to", Value: vhColl}}},
	}
	resp := f.dispatch(t, req)
	assert.Equal(t, MsgInvalidAction, errorMessage(resp))
}

func TestMissingEnvelopeFields(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, bson.D{{Key: "action", Value: "create"}})
	assert.Equal(t, MsgMissingFields, errorMessage(resp))

	fields, ok := model.LookupArray(resp, "fields")
	require.True(t, ok)
	vals, err := model.ArrayValues(fields)
	require.NoError(t, err)
	assert.Len(t, vals, 3)
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("obliterate", bson.D{}))
	assert.Equal(t, MsgInvalidAction, errorMessage(resp))
}

func TestMutationOnHistoryLocationRejected(t *testing.T) {
	f := newFixture(t)
	req := bson.D{
		{Key: "action", Value: "create"},
		{Key: "database", Value: vhDB},
		{Key: "collection", Value: vhColl},
		{Key: "document", Value: bson.D{{Key: "_id", Value: oid1}}},
	}
	resp := f.dispatch(t, req)
	assert.Equal(t, MsgInvalidAction, errorMessage(resp))
	assert.Empty(t, historyRecords(f))

	// reads against the history location stay allowed
	req[0].Value = "retrieve"
	resp = f.dispatch(t, req)
	assert.Equal(t, MsgNotFound, errorMessage(resp))
}

func TestPoolExhaustedResponse(t *testing.T) {
	st := memory.New()
	p := pool.New(context.Background(), st, pool.Config{MaxConnections: 1})
	defer p.Close()
	hw := history.NewWriter(model.Location{Database: vhDB, Collection: vhColl})
	d := New(p, hw, Options{})
	defer d.Close()

	// hold the only session
	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	frame, err := bson.Marshal(request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), frame)
	assert.Equal(t, MsgPoolExhausted, errorMessage(resp))
}

func TestMetricCapture(t *testing.T) {
	f := newFixture(t)
	frame, err := bson.Marshal(request("create", bson.D{{Key: "_id", Value: oid1}}))
	require.NoError(t, err)
	f.dispatcher.Dispatch(context.Background(), frame)

	require.Equal(t, 1, f.recorder.count())
	m := f.recorder.metrics[0]
	assert.Equal(t, "create", m.Action)
	assert.Equal(t, testDB, m.Database)
	assert.Equal(t, testColl, m.Collection)
	assert.Equal(t, len(frame), m.Size)
	assert.Equal(t, oid1.Hex(), m.EntityID)
	assert.False(t, m.Timestamp.IsZero())
}

func TestSkipMetric(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, request("create", bson.D{{Key: "_id", Value: oid1}},
		bson.E{Key: "skipMetric", Value: true}))
	assert.Equal(t, 0, f.recorder.count())
}

func TestCreateTimeseriesSkipsHistory(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, request("createTimeseries", bson.D{
		{Key: "ts", Value: primitive.NewDateTimeFromTime(time.Now())},
		{Key: "value", Value: 1.5},
	}))
	assert.Empty(t, errorMessage(resp))
	_, hasEntity := model.LookupRawValue(resp, "entity")
	assert.True(t, hasEntity)
	assert.Empty(t, historyRecords(f))
}
