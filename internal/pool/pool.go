// Package pool lends backing-store sessions to request handlers.
//
// The pool is fail-fast: when MaxConnections sessions are out on loan a
// request is answered with ErrExhausted immediately instead of queueing.
// Sessions released healthy go back on the idle list up to MaxIdle; the
// rest are closed. An idle session unused past its TTL is swept.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/docbroker/internal/logger"
	"github.com/marmos91/docbroker/internal/store"
)

// ErrExhausted is returned by Acquire when MaxConnections sessions are
// already outstanding.
var ErrExhausted = errors.New("pool: no session available")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Config sizes the pool.
type Config struct {
	// InitialSize is the number of sessions created eagerly at startup.
	InitialSize int

	// MaxIdle caps the idle list; a session released when the list is full
	// is closed instead.
	MaxIdle int

	// MaxConnections is the hard cap on outstanding sessions.
	MaxConnections int

	// IdleTTL is how long an idle session may sit unused before it is
	// closed. Zero disables sweeping.
	IdleTTL time.Duration

	// SweepInterval is how often the sweeper wakes. Defaults to a quarter
	// of IdleTTL.
	SweepInterval time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 64
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = c.MaxConnections
	}
	if c.SweepInterval <= 0 && c.IdleTTL > 0 {
		c.SweepInterval = c.IdleTTL / 4
	}
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Active       int
	Idle         int
	TotalCreated uint64
	Exhausted    uint64
}

type idleSession struct {
	sess  store.Session
	since time.Time
}

// Pool hands out store sessions up to a fixed cap.
type Pool struct {
	store store.Store
	cfg   Config

	mu          sync.Mutex
	idle        []idleSession
	outstanding int
	created     uint64
	exhausted   uint64
	closed      bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New builds a pool over st, pre-warms InitialSize sessions and starts the
// idle sweeper if a TTL is set. Pre-warm failures are logged, not fatal:
// the store may simply not be up yet.
func New(ctx context.Context, st store.Store, cfg Config) *Pool {
	cfg.ApplyDefaults()
	p := &Pool{
		store:     st,
		cfg:       cfg,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for i := 0; i < cfg.InitialSize && i < cfg.MaxIdle; i++ {
		sess, err := st.NewSession(ctx)
		if err != nil {
			logger.Warn("session pre-warm failed", logger.Err(err))
			break
		}
		p.created++
		p.idle = append(p.idle, idleSession{sess: sess, since: time.Now()})
	}
	if cfg.IdleTTL > 0 {
		go p.sweep()
	} else {
		close(p.sweepDone)
	}
	return p
}

// Lease is one borrowed session. Callers must Release on every exit path;
// Release is idempotent.
type Lease struct {
	Session store.Session
	pool    *Pool
	invalid bool
	done    bool
}

// Invalidate marks the session damaged so Release closes it instead of
// returning it to the idle list.
func (l *Lease) Invalidate() {
	l.invalid = true
}

// Release returns the session to the pool.
func (l *Lease) Release() {
	if l.done {
		return
	}
	l.done = true
	l.pool.release(l.Session, l.invalid)
}

// Acquire returns a session lease or fails immediately when the pool is
// saturated.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		entry := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.outstanding++
		p.mu.Unlock()
		return &Lease{Session: entry.sess, pool: p}, nil
	}
	if p.outstanding >= p.cfg.MaxConnections {
		p.exhausted++
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	// Reserve the slot, then create outside the lock: session creation can
	// block on the network.
	p.outstanding++
	p.mu.Unlock()

	sess, err := p.store.NewSession(ctx)
	if err != nil {
		p.mu.Lock()
		p.outstanding--
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return &Lease{Session: sess, pool: p}, nil
}

func (p *Pool) release(sess store.Session, damaged bool) {
	p.mu.Lock()
	p.outstanding--
	if p.closed || damaged || len(p.idle) >= p.cfg.MaxIdle {
		p.mu.Unlock()
		sess.Close()
		return
	}
	p.idle = append(p.idle, idleSession{sess: sess, since: time.Now()})
	p.mu.Unlock()
}

// Stats reports current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:       p.outstanding,
		Idle:         len(p.idle),
		TotalCreated: p.created,
		Exhausted:    p.exhausted,
	}
}

// Close shuts the pool. Idle sessions are closed now; outstanding sessions
// are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.sweepStop)
	<-p.sweepDone

	for _, entry := range idle {
		entry.sess.Close()
	}
}

func (p *Pool) sweep() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.sweepOnce(time.Now())
		}
	}
}

func (p *Pool) sweepOnce(now time.Time) {
	var expired []store.Session

	p.mu.Lock()
	kept := p.idle[:0]
	for _, entry := range p.idle {
		if now.Sub(entry.since) >= p.cfg.IdleTTL {
			expired = append(expired, entry.sess)
			continue
		}
		kept = append(kept, entry)
	}
	p.idle = kept
	p.mu.Unlock()

	if len(expired) > 0 {
		logger.Debug("swept idle sessions", "count", len(expired))
		for _, sess := range expired {
			sess.Close()
		}
	}
}
