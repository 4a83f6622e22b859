package metrics

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/docbroker/internal/lineproto"
	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
)

// ILPSink streams metric batches as line-protocol text over one persistent
// TCP connection to a time-series endpoint. The connection belongs to the
// drain worker alone; a failed write tears it down and the next batch
// redials.
type ILPSink struct {
	addr        string
	measurement string
	dialTimeout time.Duration

	conn net.Conn
	buf  []byte
}

// NewILPSink prepares a sink for the given host:port. The connection is
// opened lazily on the first batch so a slow or absent endpoint cannot hold
// up startup.
func NewILPSink(addr, measurement string) *ILPSink {
	if measurement == "" {
		measurement = "request"
	}
	return &ILPSink{
		addr:        addr,
		measurement: measurement,
		dialTimeout: 5 * time.Second,
	}
}

func (s *ILPSink) Name() string { return "ilp" }

func (s *ILPSink) Write(ctx context.Context, batch []*model.Metric) error {
	s.buf = s.buf[:0]
	for _, m := range batch {
		s.buf = s.encode(s.buf, m)
	}

	if err := s.send(ctx, s.buf); err != nil {
		// One redial per batch. The endpoint may simply have restarted.
		s.disconnect()
		if err = s.send(ctx, s.buf); err != nil {
			s.disconnect()
			return err
		}
	}
	return nil
}

func (s *ILPSink) encode(b []byte, m *model.Metric) []byte {
	p := lineproto.NewPoint(s.measurement).
		Tag("action", m.Action).
		Tag("database", m.Database).
		Tag("collection", m.Collection)
	if m.Application != "" {
		p.Tag("application", m.Application)
	}
	p.Int("size", int64(m.Size)).
		Int("duration", m.Duration.Nanoseconds())
	if m.CorrelationID != "" {
		p.Str("correlationId", m.CorrelationID)
	}
	if m.EntityID != "" {
		p.Str("entityId", m.EntityID)
	}
	if m.Message != "" {
		p.Str("message", m.Message)
	}
	return p.Time(m.Timestamp).AppendLine(b)
}

func (s *ILPSink) send(ctx context.Context, payload []byte) error {
	if s.conn == nil {
		dialer := net.Dialer{Timeout: s.dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			return fmt.Errorf("ilp dial %s: %w", s.addr, err)
		}
		logger.Debug("telemetry endpoint connected", "addr", s.addr)
		s.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(payload); err != nil {
		return fmt.Errorf("ilp write: %w", err)
	}
	return nil
}

func (s *ILPSink) disconnect() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *ILPSink) Close() error {
	s.disconnect()
	return nil
}
