package tgd

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// AccessMode tells the routing layer whether an operation reads or writes.
type AccessMode int

const (
	// AccessModeWrite routes to writer members. The default.
	AccessModeWrite AccessMode = iota

	// AccessModeRead routes to reader members.
	AccessModeRead
)

func (m AccessMode) String() string {
	if m == AccessModeRead {
		return "READ"
	}
	return "WRITE"
}

// Driver is a process-lifetime handle over one connection pool. Created once,
// closed once; closing releases every pooled connection and rejects
// subsequent operations.
type Driver interface {
	// Session opens a logical session with a default access mode. Operations
	// within one session are strictly ordered and chain bookmarks.
	Session(defaultMode AccessMode) (*Session, error)

	// Run executes one query outside any session, without bookmark chaining.
	Run(ctx context.Context, mode AccessMode, query Query) (*Result, error)

	// Target is the address the driver was constructed with.
	Target() ServerAddress

	// Close shuts the pool down. Idempotent.
	Close() error
}

// runner is the single-operation execution capability both driver variants
// implement and sessions delegate to.
type runner interface {
	runWithMode(ctx context.Context, mode AccessMode, query Query, bookmark string) (*Result, error)
	closed() bool
}

// runOnPool is the single-address execution primitive: acquire, run, release
// (or discard on a connection-fatal error). No retry, no topology awareness.
func runOnPool(ctx context.Context, pool *ConnectionPool, address ServerAddress, query Query, bookmark string) (*Result, error) {
	if bookmark != "" {
		query.Bookmarks = append(query.Bookmarks, bookmark)
	}

	host, err := pool.Acquire(ctx, address)
	if err != nil {
		return nil, err
	}

	result, err := host.Conn.Run(ctx, query)
	pool.Release(host, isFatalToConnection(err))

	return result, err
}

// DirectDriver executes every operation against one fixed address. It is the
// single-server deployment mode; failures propagate unchanged.
type DirectDriver struct {
	address  ServerAddress
	pool     *ConnectionPool
	logger   zerolog.Logger
	isClosed *atomic.Bool
}

// NewDirectDriver binds a driver to one fixed address via pool.
func NewDirectDriver(address ServerAddress, pool *ConnectionPool, logger zerolog.Logger) *DirectDriver {
	return &DirectDriver{
		address:  address,
		pool:     pool,
		logger:   logger,
		isClosed: atomic.NewBool(false),
	}
}

// Session opens a logical session against the fixed address.
func (d *DirectDriver) Session(defaultMode AccessMode) (*Session, error) {
	if d.isClosed.Load() {
		return nil, ErrDriverClosed
	}
	return newSession(d, defaultMode, d.logger), nil
}

// Run executes one query without bookmark chaining.
func (d *DirectDriver) Run(ctx context.Context, mode AccessMode, query Query) (*Result, error) {
	return d.runWithMode(ctx, mode, query, "")
}

// Target returns the fixed address.
func (d *DirectDriver) Target() ServerAddress {
	return d.address
}

// Close shuts down the owned pool. Safe to call more than once.
func (d *DirectDriver) Close() error {
	if !d.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	return d.pool.Shutdown()
}

func (d *DirectDriver) runWithMode(ctx context.Context, mode AccessMode, query Query, bookmark string) (*Result, error) {
	if d.isClosed.Load() {
		return nil, ErrDriverClosed
	}

	// Access mode is irrelevant against a single server.
	_ = mode

	return runOnPool(ctx, d.pool, d.address, query, bookmark)
}

func (d *DirectDriver) closed() bool {
	return d.isClosed.Load()
}
