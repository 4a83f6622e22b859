package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/wire"
)

// echoDispatcher answers every request with {n: <request n>}.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, frame bson.Raw) bson.Raw {
	n, _ := model.LookupInt32(frame, "n")
	return model.MustMarshal(bson.D{{Key: "n", Value: n}})
}

func startServer(t *testing.T, cfg Config) (*Server, net.Conn) {
	t.Helper()
	srv := New(cfg, echoDispatcher{})
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Stop() })

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func sendRequest(t *testing.T, conn net.Conn, n int32) {
	t.Helper()
	frame, err := wire.Encode(bson.D{{Key: "n", Value: n}})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, frame))
}

func readResponse(t *testing.T, conn net.Conn) bson.Raw {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	doc, err := wire.Validate(frame.Data)
	require.NoError(t, err)
	return doc
}

func TestRequestResponseRoundTrip(t *testing.T) {
	_, conn := startServer(t, Config{})

	sendRequest(t, conn, 7)
	resp := readResponse(t, conn)
	assert.Equal(t, int32(7), resp.Lookup("n").Int32())
}

func TestResponsesMatchRequestOrder(t *testing.T) {
	_, conn := startServer(t, Config{})

	for i := int32(0); i < 10; i++ {
		sendRequest(t, conn, i)
	}
	for i := int32(0); i < 10; i++ {
		resp := readResponse(t, conn)
		assert.Equal(t, i, resp.Lookup("n").Int32())
	}
}

func TestPingEcho(t *testing.T) {
	_, conn := startServer(t, Config{})

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 4)
	_, err := conn.Write(prefix[:])
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var echoed [4]byte
	_, err = conn.Read(echoed[:])
	require.NoError(t, err)
	assert.Equal(t, prefix, echoed)

	// still a working connection
	sendRequest(t, conn, 1)
	resp := readResponse(t, conn)
	assert.Equal(t, int32(1), resp.Lookup("n").Int32())
}

func TestRawTextAnswersNotBSONAndKeepsConnection(t *testing.T) {
	_, conn := startServer(t, Config{})

	_, err := conn.Write([]byte("hello world"))
	require.NoError(t, err)

	resp := readResponse(t, conn)
	assert.Equal(t, "Payload not BSON", resp.Lookup("error").StringValue())

	sendRequest(t, conn, 3)
	resp = readResponse(t, conn)
	assert.Equal(t, int32(3), resp.Lookup("n").Int32())
}

func TestMalformedFrameAnswersNotBSON(t *testing.T) {
	_, conn := startServer(t, Config{})

	// A well-framed body that is not a BSON document.
	junk := make([]byte, 16)
	binary.LittleEndian.PutUint32(junk, 16)
	for i := 4; i < 16; i++ {
		junk[i] = 0x7f
	}
	_, err := conn.Write(junk)
	require.NoError(t, err)

	resp := readResponse(t, conn)
	assert.Equal(t, "Payload not BSON", resp.Lookup("error").StringValue())

	sendRequest(t, conn, 4)
	resp = readResponse(t, conn)
	assert.Equal(t, int32(4), resp.Lookup("n").Int32())
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	_, conn := startServer(t, Config{})

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], wire.MaxFrameSize+1)
	_, err := conn.Write(prefix[:])
	require.NoError(t, err)

	resp := readResponse(t, conn)
	assert.Equal(t, "Payload too large", resp.Lookup("error").StringValue())

	// server dropped the connection after responding
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b [1]byte
	_, err = conn.Read(b[:])
	assert.Error(t, err)
}

func TestConnectionCount(t *testing.T) {
	srv, _ := startServer(t, Config{MaxConnections: 8})

	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopUnblocksIdleConnections(t *testing.T) {
	srv := New(Config{ShutdownTimeout: 2 * time.Second}, echoDispatcher{})
	go func() { _ = srv.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// the peer is idle in a blocking read; Stop must still return promptly
	require.NoError(t, srv.Stop())
}
