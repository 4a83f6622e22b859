package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/docbroker/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	created int
	fail    error
}

func (f *fakeStore) NewSession(ctx context.Context) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.created++
	return &fakeSession{}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) Close(ctx context.Context) error { return nil }

func (f *fakeStore) sessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeSession struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Collection(database, name string) store.Collection { return nil }

func (s *fakeSession) CreateCollection(ctx context.Context, database, name string, opts *store.CreateCollectionOptions) error {
	return nil
}

func (s *fakeSession) DropCollection(ctx context.Context, database, name string) error { return nil }

func (s *fakeSession) RenameCollection(ctx context.Context, database, from, to string) error {
	return nil
}

func (s *fakeSession) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeSession) Ping(ctx context.Context) error { return nil }

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestInitialSizePreWarms(t *testing.T) {
	fs := &fakeStore{}
	p := New(context.Background(), fs, Config{InitialSize: 3, MaxConnections: 4})
	defer p.Close()

	assert.Equal(t, 3, fs.sessionsCreated())
	stats := p.Stats()
	assert.Equal(t, 3, stats.Idle)
	assert.Equal(t, uint64(3), stats.TotalCreated)
}

func TestAcquireReusesIdleSession(t *testing.T) {
	fs := &fakeStore{}
	p := New(context.Background(), fs, Config{MaxConnections: 2})
	defer p.Close()
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := lease.Session
	lease.Release()

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, lease.Session)
	lease.Release()

	assert.Equal(t, 1, fs.sessionsCreated())
}

func TestAcquireFailsFastWhenExhausted(t *testing.T) {
	p := New(context.Background(), &fakeStore{}, Config{MaxConnections: 1})
	defer p.Close()
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Exhausted)
	assert.Equal(t, 1, stats.Active)

	lease.Release()
	_, err = p.Acquire(ctx)
	assert.NoError(t, err)
}

func TestInvalidatedSessionNotReused(t *testing.T) {
	fs := &fakeStore{}
	p := New(context.Background(), fs, Config{MaxConnections: 2})
	defer p.Close()
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	damaged := lease.Session.(*fakeSession)
	lease.Invalidate()
	lease.Release()

	assert.True(t, damaged.isClosed())
	assert.Equal(t, 0, p.Stats().Idle)

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, damaged, lease.Session)
	lease.Release()
}

func TestIdleCapClosesOverflow(t *testing.T) {
	fs := &fakeStore{}
	p := New(context.Background(), fs, Config{MaxIdle: 1, MaxConnections: 3})
	defer p.Close()
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	a.Release()
	overflow := b.Session.(*fakeSession)
	b.Release()

	assert.Equal(t, 1, p.Stats().Idle)
	assert.True(t, overflow.isClosed())
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(context.Background(), &fakeStore{}, Config{MaxConnections: 1})
	defer p.Close()

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestSessionCreationFailureFreesSlot(t *testing.T) {
	fs := &fakeStore{fail: errors.New("down")}
	p := New(context.Background(), fs, Config{MaxConnections: 1})
	defer p.Close()
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)

	// The reserved slot must be given back on failure.
	fs.mu.Lock()
	fs.fail = nil
	fs.mu.Unlock()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
}

func TestIdleSweep(t *testing.T) {
	fs := &fakeStore{}
	p := New(context.Background(), fs, Config{MaxConnections: 2, IdleTTL: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	defer p.Close()

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	sess := lease.Session.(*fakeSession)
	lease.Release()

	require.Eventually(t, func() bool {
		return p.Stats().Idle == 0 && sess.isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestCloseClosesIdleAndRejectsAcquire(t *testing.T) {
	p := New(context.Background(), &fakeStore{}, Config{MaxConnections: 2})
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	// One session idle, one outstanding at Close time.
	idle := first.Session.(*fakeSession)
	first.Release()

	p.Close()
	assert.True(t, idle.isClosed())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	outstanding := held.Session.(*fakeSession)
	held.Release()
	assert.True(t, outstanding.isClosed())
}
