package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so log aggregation can query on them.
const (
	KeyAction        = "action"         // request action tag: create, retrieve, update, ...
	KeyDatabase      = "database"       // target database name
	KeyCollection    = "collection"     // target collection name
	KeyEntityID      = "entity_id"      // primary key of the affected document
	KeyCorrelationID = "correlation_id" // caller-supplied correlation identifier
	KeyApplication   = "application"    // caller-supplied application name

	KeyClientIP     = "client_ip"     // peer address of the TCP connection
	KeyConnectionID = "connection_id" // server-assigned connection identifier

	KeyFrameSize  = "frame_size"  // inbound frame length in bytes
	KeyDurationMs = "duration_ms" // handler wall time in milliseconds
	KeyError      = "error"       // error message

	KeyPoolActive = "pool_active" // sessions currently lent out
	KeyPoolIdle   = "pool_idle"   // sessions parked in the pool
	KeyBatchSize  = "batch_size"  // telemetry batch size
	KeySink       = "sink"        // telemetry sink kind: store, ilp
)

// Action returns a slog.Attr for the request action tag.
func Action(a string) slog.Attr {
	return slog.String(KeyAction, a)
}

// Database returns a slog.Attr for the target database.
func Database(db string) slog.Attr {
	return slog.String(KeyDatabase, db)
}

// Collection returns a slog.Attr for the target collection.
func Collection(c string) slog.Attr {
	return slog.String(KeyCollection, c)
}

// EntityID returns a slog.Attr for the affected document id.
func EntityID(id string) slog.Attr {
	return slog.String(KeyEntityID, id)
}

// CorrelationID returns a slog.Attr for the request correlation id.
func CorrelationID(id string) slog.Attr {
	return slog.String(KeyCorrelationID, id)
}

// ClientIP returns a slog.Attr for the peer address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ConnectionID returns a slog.Attr for the connection identifier.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// FrameSize returns a slog.Attr for the inbound frame length.
func FrameSize(n int) slog.Attr {
	return slog.Int(KeyFrameSize, n)
}

// DurationMs returns a slog.Attr for handler wall time in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. Returns an empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
