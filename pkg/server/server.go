// Package server runs the broker's TCP listener: one goroutine per accepted
// connection, each reading length-prefixed BSON frames sequentially and
// writing back one framed response per request.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/internal/broker"
	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/wire"
	"github.com/marmos91/docbroker/pkg/bufpool"
)

// Dispatcher turns one validated request frame into one response document.
type Dispatcher interface {
	Dispatch(ctx context.Context, frame bson.Raw) bson.Raw
}

// Config holds the listener settings.
type Config struct {
	// BindAddress is the interface to bind. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int

	// MaxConnections caps concurrent client connections. 0 means unlimited.
	MaxConnections int

	// ReadTimeout bounds the wait for the next frame on an open connection.
	// 0 disables the idle deadline.
	ReadTimeout time.Duration

	// ShutdownTimeout bounds the graceful-shutdown wait for active
	// connections.
	ShutdownTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server accepts broker connections and drives the per-connection frame loop.
type Server struct {
	cfg        Config
	dispatcher Dispatcher

	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed once the listener is accepting. Tests use it
	// to learn the bound address before dialing.
	ListenerReady chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	connSem     chan struct{}

	// requestCtx is cancelled at shutdown to abort in-flight store calls.
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	// open connections by id, for forced closure and read interruption
	conns sync.Map
}

// New builds a stopped server. Call Serve to start.
func New(cfg Config, d Dispatcher) *Server {
	cfg.ApplyDefaults()

	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}
	requestCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:            cfg,
		dispatcher:     d,
		ListenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSem:        sem,
		requestCtx:     requestCtx,
		cancelRequests: cancel,
	}
}

// Serve listens and accepts until ctx is cancelled or Stop is called.
// Returns nil on graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("broker listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.connSem != nil {
				<-s.connSem
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("accept failed", logger.Err(err))
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		id := uuid.NewString()
		s.activeConns.Add(1)
		s.connCount.Add(1)
		s.conns.Store(id, conn)

		logger.Debug("connection accepted",
			logger.ConnectionID(id),
			logger.ClientIP(conn.RemoteAddr().String()),
			"active", s.connCount.Load())

		go func() {
			defer func() {
				s.conns.Delete(id)
				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSem != nil {
					<-s.connSem
				}
				logger.Debug("connection closed", logger.ConnectionID(id), "active", s.connCount.Load())
			}()
			s.serveConn(s.requestCtx, id, conn)
		}()
	}
}

// serveConn reads frames until peer close, socket error or an oversized
// frame. Requests on one connection are strictly sequential: the i-th
// response answers the i-th request.
func (s *Server) serveConn(ctx context.Context, id string, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}

		frame, err := wire.ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, wire.ErrNotBSON):
				// Raw text on the stream. Discard whatever else the peer
				// pushed, answer, and keep the connection.
				drainGarbage(conn)
				s.writeError(id, conn, broker.MsgNotBSON)
				continue
			case errors.Is(err, wire.ErrTooLarge):
				// Respond, then drop the connection: the stream position
				// is unknown past an unread oversized body.
				s.writeError(id, conn, broker.MsgPayloadTooLarge)
				logger.Warn("oversized frame", logger.ConnectionID(id), logger.Err(err))
				return
			default:
				if ctx.Err() == nil {
					logger.Debug("read failed", logger.ConnectionID(id), logger.Err(err))
				}
				return
			}
		}

		if frame.Ping {
			err := wire.WriteFrame(conn, frame.Data)
			frame.Release()
			if err != nil {
				logger.Debug("ping echo failed", logger.ConnectionID(id), logger.Err(err))
				return
			}
			continue
		}

		doc, err := wire.Validate(frame.Data)
		if err != nil {
			// Malformed payloads get an answer and the connection lives on.
			frame.Release()
			s.writeError(id, conn, broker.MsgNotBSON)
			continue
		}

		resp := s.dispatcher.Dispatch(ctx, doc)
		frame.Release()
		if err := wire.WriteFrame(conn, resp); err != nil {
			logger.Debug("write failed", logger.ConnectionID(id), logger.Err(err))
			return
		}
	}
}

// drainGarbage swallows the unread remainder of a non-frame payload so the
// next read starts at a quiet stream position.
func drainGarbage(conn net.Conn) {
	buf := bufpool.Get(4096)
	defer bufpool.Put(buf)
	for i := 0; i < 256; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
}

func (s *Server) writeError(id string, conn net.Conn, msg string) {
	if err := wire.WriteFrame(conn, model.ErrorDoc(msg)); err != nil {
		logger.Debug("error response write failed", logger.ConnectionID(id), logger.Err(err))
	}
}

// Addr returns the bound address. Blocks until the listener is up.
func (s *Server) Addr() string {
	<-s.ListenerReady
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Stop initiates graceful shutdown and waits for connections to finish, up
// to ShutdownTimeout.
func (s *Server) Stop() error {
	s.initiateShutdown()
	return s.gracefulShutdown()
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.listenerMu.Unlock()

		// Unblock reads parked in ReadFrame.
		deadline := time.Now().Add(100 * time.Millisecond)
		s.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})

		s.cancelRequests()
	})
}

func (s *Server) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("waiting for active connections", "active", active, "timeout", s.cfg.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		remaining := s.connCount.Load()
		s.conns.Range(func(_, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.Close()
			}
			return true
		})
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}
