// Package bufpool provides a tiered buffer pool for frame payloads.
//
// Every request and response on the broker's listener is one contiguous
// byte slice, read and written whole. Pooling those slices by size class
// keeps the per-request allocation cost flat under load: most frames are a
// few hundred bytes, bulk and pipeline payloads run to megabytes, and the
// frame cap bounds the worst case.
//
// Buffers above the large tier are allocated directly and never pooled, so
// an occasional maximum-size frame does not pin megabytes of memory in the
// pool afterwards.
//
// All operations are safe for concurrent use.
package bufpool

import (
	"sync"
)

// Buffer size classes.
const (
	// DefaultSmallSize covers typical CRUD envelopes (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize covers multi-document results (64KB)
	DefaultMediumSize = 64 << 10

	// DefaultLargeSize covers bulk and pipeline payloads (1MB)
	DefaultLargeSize = 1 << 20
)

// Pool manages byte slice pools organized by size class. Get selects the
// smallest class that fits and falls back to direct allocation above the
// large tier.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds the size classes for a custom pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a buffer pool with the given configuration. A nil config
// or zero field falls back to the defaults.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of length size, backed by a pooled buffer whose
// capacity may exceed it. The caller must Put the buffer back when the
// frame has been fully handled.
//
// Sizes above the large tier allocate directly and are not pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		buf := make([]byte, size)
		return buf
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse. The buffer must not be used
// after Put. Buffers whose capacity matches no size class are left to the
// garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	}
}

// globalPool is the package-level pool shared by the framing layer.
var globalPool = NewPool(nil)

// Get returns a byte slice of length size from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GetUint32 accepts the uint32 lengths carried by frame prefixes.
func GetUint32(size uint32) []byte {
	return globalPool.Get(int(size))
}
