//go:build integration

// End-to-end broker tests against a real MongoDB. The container is started
// with a single-node replica set so transactions work. Set MONGODB_URI to
// run against an existing deployment instead.
package broker_test

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marmos91/docbroker/internal/broker"
	"github.com/marmos91/docbroker/internal/history"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/internal/store/mongo"
	"github.com/marmos91/docbroker/internal/wire"
	"github.com/marmos91/docbroker/pkg/server"
)

const (
	testDB   = "itest"
	testColl = "test"
	vhDB     = "itest"
	vhColl   = "history"
)

var oid1, _ = primitive.ObjectIDFromHex("507f1f77bcf86cd799439011")

// brokerHelper owns the full stack for one test: store, pool, dispatcher
// and a listening TCP server.
type brokerHelper struct {
	store *mongo.Store
	srv   *server.Server
}

func newBrokerHelper(t *testing.T) *brokerHelper {
	t.Helper()
	ctx := context.Background()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
		testcontainers.CleanupContainer(t, container)
		if err != nil {
			t.Skipf("could not start mongodb container: %v", err)
		}

		uri, err = container.ConnectionString(ctx)
		require.NoError(t, err)
	}

	st, err := mongo.Connect(ctx, mongo.Config{URI: uri, ConnectTimeout: 30 * time.Second, AppName: "docbroker-itest"})
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	})

	// Start from a clean slate
	sess, err := st.NewSession(ctx)
	require.NoError(t, err)
	_ = sess.DropCollection(ctx, testDB, testColl)
	_ = sess.DropCollection(ctx, vhDB, vhColl)
	sess.Close()

	p := pool.New(ctx, st, pool.Config{MaxConnections: 8})
	t.Cleanup(p.Close)

	hw := history.NewWriter(model.Location{Database: vhDB, Collection: vhColl})
	d := broker.New(p, hw, broker.Options{})
	t.Cleanup(d.Close)

	srv := server.New(server.Config{}, d)
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Stop() })

	return &brokerHelper{store: st, srv: srv}
}

func (h *brokerHelper) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req bson.D) bson.Raw {
	t.Helper()
	frame, err := wire.Encode(req)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, frame))

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	respFrame, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	doc, err := wire.Validate(respFrame.Data)
	require.NoError(t, err)
	return doc
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
	v, err := resp.LookupErr("error")
	if err != nil {
		return ""
	}
	return v.StringValue()
}

func countHistory(t *testing.T, conn net.Conn, filter bson.D) int64 {
	t.Helper()
	resp := roundTrip(t, conn, bson.D{
		{Key: "action", Value: "count"},
		{Key: "database", Value: vhDB},
		{Key: "collection", Value: vhColl},
		{Key: "document", Value: filter},
	})
	require.Empty(t, errorMessage(resp))
	return resp.Lookup("count").AsInt64()
}

func TestEndToEnd(t *testing.T) {
	h := newBrokerHelper(t)
	conn := h.dial(t)

	t.Run("CreateThenRetrieveByID", func(t *testing.T) {
		resp := roundTrip(t, conn, request("create", bson.D{{Key: "_id", Value: oid1}, {Key: "key", Value: "value"}}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, vhDB, resp.Lookup("database").StringValue())
		assert.Equal(t, vhColl, resp.Lookup("collection").StringValue())
		assert.Equal(t, oid1, resp.Lookup("entity").ObjectID())
		assert.False(t, resp.Lookup("_id").ObjectID().IsZero())

		resp = roundTrip(t, conn, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, "value", resp.Lookup("result", "key").StringValue())
	})

	t.Run("RetrieveByProperty", func(t *testing.T) {
		resp := roundTrip(t, conn, request("retrieve", bson.D{{Key: "key", Value: "value"}}))
		require.Empty(t, errorMessage(resp))

		results, err := resp.Lookup("results").Array().Values()
		require.NoError(t, err)
		require.NotEmpty(t, results)
		found := false
		for _, v := range results {
			if doc, ok := v.DocumentOK(); ok && doc.Lookup("_id").ObjectID() == oid1 {
				found = true
			}
		}
		assert.True(t, found, "results should include the created document")
	})

	t.Run("UpdateMergeByID", func(t *testing.T) {
		resp := roundTrip(t, conn, request("update", bson.D{{Key: "_id", Value: oid1}, {Key: "key1", Value: "value1"}}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, "value", resp.Lookup("document", "key").StringValue())
		assert.Equal(t, "value1", resp.Lookup("document", "key1").StringValue())

		// create + update
		assert.Equal(t, int64(2), countHistory(t, conn, bson.D{{Key: "entity._id", Value: oid1}}))
	})

	t.Run("SkipVersionUpdate", func(t *testing.T) {
		resp := roundTrip(t, conn, request("update", bson.D{{Key: "_id", Value: oid1}, {Key: "key2", Value: "value2"}},
			bson.E{Key: "skipVersion", Value: true}))
		require.Empty(t, errorMessage(resp))
		assert.True(t, resp.Lookup("skipVersion").Boolean())
		_, err := resp.LookupErr("document")
		assert.Error(t, err, "skip-version responses carry no document")

		assert.Equal(t, int64(2), countHistory(t, conn, bson.D{{Key: "entity._id", Value: oid1}}))
	})

	t.Run("Delete", func(t *testing.T) {
		resp := roundTrip(t, conn, request("delete", bson.D{{Key: "_id", Value: oid1}}))
		require.Empty(t, errorMessage(resp))

		success, err := resp.Lookup("success").Array().Values()
		require.NoError(t, err)
		require.Len(t, success, 1)
		assert.Equal(t, oid1, success[0].ObjectID())

		historyIDs, err := resp.Lookup("history").Array().Values()
		require.NoError(t, err)
		assert.Len(t, historyIDs, 1)

		resp = roundTrip(t, conn, request("retrieve", bson.D{{Key: "_id", Value: oid1}}))
		assert.Equal(t, "Document not found", errorMessage(resp))
	})

	t.Run("TransactionCreateCreateDeleteDelete", func(t *testing.T) {
		txnOID1 := primitive.NewObjectID()
		txnOID2 := primitive.NewObjectID()

		item := func(action string, doc bson.D) bson.D {
			return bson.D{
				{Key: "action", Value: action},
				{Key: "database", Value: testDB},
				{Key: "collection", Value: testColl},
				{Key: "document", Value: doc},
			}
		}
		resp := roundTrip(t, conn, request("transaction", bson.D{
			{Key: "items", Value: bson.A{
				item("create", bson.D{{Key: "_id", Value: txnOID1}, {Key: "n", Value: int32(1)}}),
				item("create", bson.D{{Key: "_id", Value: txnOID2}, {Key: "n", Value: int32(2)}}),
				item("delete", bson.D{{Key: "_id", Value: txnOID1}}),
				item("delete", bson.D{{Key: "_id", Value: txnOID2}}),
			}},
		}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, int32(2), resp.Lookup("created").Int32())
		assert.Equal(t, int32(0), resp.Lookup("updated").Int32())
		assert.Equal(t, int32(2), resp.Lookup("deleted").Int32())

		created, err := resp.Lookup("history", "created").Array().Values()
		require.NoError(t, err)
		assert.Len(t, created, 2)
		deleted, err := resp.Lookup("history", "deleted").Array().Values()
		require.NoError(t, err)
		assert.Len(t, deleted, 2)

		assert.Equal(t, int64(2), countHistory(t, conn, bson.D{
			{Key: "entity._id", Value: txnOID1},
		}))
		assert.Equal(t, int64(2), countHistory(t, conn, bson.D{
			{Key: "entity._id", Value: txnOID2},
		}))
	})

	t.Run("RawTextKeepsConnection", func(t *testing.T) {
		_, err := conn.Write([]byte("hello world"))
		require.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		respFrame, err := wire.ReadFrame(conn)
		require.NoError(t, err)
		doc, err := wire.Validate(respFrame.Data)
		require.NoError(t, err)
		assert.Equal(t, "Payload not BSON", errorMessage(doc))

		// the connection still serves requests
		resp := roundTrip(t, conn, request("retrieve", bson.D{{Key: "key", Value: "value"}}))
		assert.Empty(t, errorMessage(resp))
	})

	t.Run("BulkInsertThenDelete", func(t *testing.T) {
		id1 := primitive.NewObjectID()
		id2 := primitive.NewObjectID()

		resp := roundTrip(t, conn, request("bulk", bson.D{
			{Key: "insert", Value: bson.A{
				bson.D{{Key: "_id", Value: id1}, {Key: "bulk", Value: true}},
				bson.D{{Key: "_id", Value: id2}, {Key: "bulk", Value: true}},
			}},
		}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, int32(2), resp.Lookup("create").Int32())

		resp = roundTrip(t, conn, request("bulk", bson.D{
			{Key: "delete", Value: bson.A{
				bson.D{{Key: "_id", Value: id1}},
				bson.D{{Key: "_id", Value: id2}},
			}},
		}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, int32(2), resp.Lookup("delete").Int32())
	})

	t.Run("UnacknowledgedCreate", func(t *testing.T) {
		// w:0 makes the driver report the insert as unacknowledged; the
		// broker still answers success and records history.
		id := primitive.NewObjectID()
		resp := roundTrip(t, conn, request("create", bson.D{{Key: "_id", Value: id}, {Key: "fire", Value: "forget"}},
			bson.E{Key: "options", Value: bson.D{
				{Key: "writeConcern", Value: bson.D{{Key: "w", Value: int32(0)}}},
			}}))
		require.Empty(t, errorMessage(resp))
		assert.Equal(t, id, resp.Lookup("entity").ObjectID())

		assert.Equal(t, int64(1), countHistory(t, conn, bson.D{{Key: "entity._id", Value: id}}))
	})

	t.Run("PingEcho", func(t *testing.T) {
		var prefix [4]byte
		binary.LittleEndian.PutUint32(prefix[:], 4)
		_, err := conn.Write(prefix[:])
		require.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var echoed [4]byte
		_, err = conn.Read(echoed[:])
		require.NoError(t, err)
		assert.Equal(t, prefix, echoed)
	})

	t.Run("OversizedFrameClosesConnection", func(t *testing.T) {
		// separate connection: this one does not survive
		big := h.dial(t)

		var prefix [4]byte
		binary.LittleEndian.PutUint32(prefix[:], wire.MaxFrameSize+1)
		_, err := big.Write(prefix[:])
		require.NoError(t, err)

		_ = big.SetReadDeadline(time.Now().Add(30 * time.Second))
		respFrame, err := wire.ReadFrame(big)
		require.NoError(t, err)
		doc, err := wire.Validate(respFrame.Data)
		require.NoError(t, err)
		assert.Equal(t, "Payload too large", errorMessage(doc))

		var b [1]byte
		_, err = big.Read(b[:])
		assert.Error(t, err)
	})
}
