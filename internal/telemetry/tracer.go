package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for request handling.
// These follow OpenTelemetry semantic conventions where applicable.
// Store keys reuse the "db." namespace; broker-specific keys use their own.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrClientPort = "client.port"

	// ========================================================================
	// Request attributes
	// ========================================================================
	AttrAction        = "request.action"         // create, retrieve, update, ...
	AttrFrameSize     = "request.frame_size"     // Encoded request bytes
	AttrCorrelationID = "request.correlation_id" // Caller-supplied trace token
	AttrApplication   = "request.application"    // Originating application name
	AttrError         = "request.error"          // Error message on failure

	// ========================================================================
	// Store attributes
	// ========================================================================
	AttrDatabase   = "db.name"
	AttrCollection = "db.collection"
	AttrEntityID   = "db.entity_id" // Hex _id of the targeted document
	AttrMatched    = "db.matched"
	AttrModified   = "db.modified"
	AttrDeleted    = "db.deleted"

	// ========================================================================
	// Session pool attributes
	// ========================================================================
	AttrPoolActive = "pool.active"
	AttrPoolIdle   = "pool.idle"

	// ========================================================================
	// History attributes
	// ========================================================================
	AttrHistoryOperation = "history.operation" // created, updated, deleted
	AttrHistoryCount     = "history.count"     // Version documents written

	// ========================================================================
	// Transaction attributes
	// ========================================================================
	AttrTxnItems   = "txn.items"
	AttrTxnAborted = "txn.aborted"

	// ========================================================================
	// Metric sink attributes
	// ========================================================================
	AttrSinkName  = "sink.name"
	AttrBatchSize = "sink.batch_size"
)

// Span names.
// Format: <component>.<operation>
const (
	// Root span for one framed request
	SpanRequest = "broker.request"

	// Broker actions
	SpanRetrieve         = "broker.retrieve"
	SpanCreate           = "broker.create"
	SpanUpdate           = "broker.update"
	SpanDelete           = "broker.delete"
	SpanCount            = "broker.count"
	SpanDistinct         = "broker.distinct"
	SpanPipeline         = "broker.pipeline"
	SpanBulk             = "broker.bulk"
	SpanTransaction      = "broker.transaction"
	SpanIndex            = "broker.index"
	SpanDropIndex        = "broker.dropIndex"
	SpanCreateCollection = "broker.createCollection"
	SpanDropCollection   = "broker.dropCollection"
	SpanRenameCollection = "broker.renameCollection"

	// Store operations
	SpanStoreFind   = "store.find"
	SpanStoreInsert = "store.insert"
	SpanStoreUpdate = "store.update"
	SpanStoreDelete = "store.delete"

	// History writer
	SpanHistoryRecord = "history.record"
	SpanHistoryPurge  = "history.purge"

	// Metric pipeline
	SpanSinkFlush = "sink.flush"
)

// ============================================================================
// Attribute helpers
// ============================================================================

// ClientIP returns a client IP attribute
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns a client address attribute (ip:port)
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Action returns a request action attribute
func Action(action string) attribute.KeyValue {
	return attribute.String(AttrAction, action)
}

// FrameSize returns a request frame size attribute
func FrameSize(size int) attribute.KeyValue {
	return attribute.Int(AttrFrameSize, size)
}

// CorrelationID returns a correlation id attribute
func CorrelationID(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

// Application returns an originating application attribute
func Application(name string) attribute.KeyValue {
	return attribute.String(AttrApplication, name)
}

// Database returns a database name attribute
func Database(name string) attribute.KeyValue {
	return attribute.String(AttrDatabase, name)
}

// Collection returns a collection name attribute
func Collection(name string) attribute.KeyValue {
	return attribute.String(AttrCollection, name)
}

// EntityID returns a document id attribute
func EntityID(id string) attribute.KeyValue {
	return attribute.String(AttrEntityID, id)
}

// EntityIDBytes returns a document id attribute from raw id bytes
func EntityIDBytes(id []byte) attribute.KeyValue {
	return attribute.String(AttrEntityID, fmt.Sprintf("%x", id))
}

// Matched returns a matched-count attribute
func Matched(n int64) attribute.KeyValue {
	return attribute.Int64(AttrMatched, n)
}

// Modified returns a modified-count attribute
func Modified(n int64) attribute.KeyValue {
	return attribute.Int64(AttrModified, n)
}

// Deleted returns a deleted-count attribute
func Deleted(n int64) attribute.KeyValue {
	return attribute.Int64(AttrDeleted, n)
}

// PoolActive returns an active-session attribute
func PoolActive(n int) attribute.KeyValue {
	return attribute.Int(AttrPoolActive, n)
}

// PoolIdle returns an idle-session attribute
func PoolIdle(n int) attribute.KeyValue {
	return attribute.Int(AttrPoolIdle, n)
}

// HistoryOperation returns a history operation attribute
func HistoryOperation(op string) attribute.KeyValue {
	return attribute.String(AttrHistoryOperation, op)
}

// HistoryCount returns a history document count attribute
func HistoryCount(n int) attribute.KeyValue {
	return attribute.Int(AttrHistoryCount, n)
}

// TxnItems returns a transaction item count attribute
func TxnItems(n int) attribute.KeyValue {
	return attribute.Int(AttrTxnItems, n)
}

// TxnAborted returns a transaction abort attribute
func TxnAborted(aborted bool) attribute.KeyValue {
	return attribute.Bool(AttrTxnAborted, aborted)
}

// SinkName returns a metric sink name attribute
func SinkName(name string) attribute.KeyValue {
	return attribute.String(AttrSinkName, name)
}

// BatchSize returns a metric batch size attribute
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// ErrorMessage returns a request error attribute
func ErrorMessage(msg string) attribute.KeyValue {
	return attribute.String(AttrError, msg)
}

// ============================================================================
// Span helpers
// ============================================================================

// StartRequestSpan starts a span for one broker action. The span is named
// "broker.<action>" and tagged with the request target.
func StartRequestSpan(ctx context.Context, action, database, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := []attribute.KeyValue{
		Action(action),
		Database(database),
		Collection(collection),
	}
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, "broker."+action,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(spanAttrs...),
	)
}

// StartStoreSpan starts a span for a store round trip, e.g. "store.find".
func StartStoreSpan(ctx context.Context, operation, database, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := []attribute.KeyValue{
		Database(database),
		Collection(collection),
	}
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(spanAttrs...),
	)
}

// StartHistorySpan starts a span for a version history write.
func StartHistorySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := []attribute.KeyValue{
		HistoryOperation(operation),
	}
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, SpanHistoryRecord,
		trace.WithAttributes(spanAttrs...),
	)
}

// StartSinkSpan starts a span for a metric sink flush.
func StartSinkSpan(ctx context.Context, sink string, batch int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := []attribute.KeyValue{
		SinkName(sink),
		BatchSize(batch),
	}
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, SpanSinkFlush,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(spanAttrs...),
	)
}
