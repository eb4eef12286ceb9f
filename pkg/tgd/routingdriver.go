package tgd

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// RoutingSettings bound the routing driver's retry discipline.
type RoutingSettings struct {
	// RoutingContext is forwarded verbatim to the cluster topology query.
	RoutingContext map[string]string

	// RetryTimeout caps how long one operation keeps retrying across
	// candidates and topology refreshes before giving up.
	RetryTimeout time.Duration
}

// RoutingDriver chooses an address from the routing table per operation and
// retries across candidate addresses and across topology refreshes on
// transient failure, bounded by the retry timeout.
type RoutingDriver struct {
	seed     ServerAddress
	pool     *ConnectionPool
	manager  *RoutingTableManager
	settings RoutingSettings
	clock    clockwork.Clock
	logger   zerolog.Logger

	database string
	readIdx  *atomic.Uint64
	writeIdx *atomic.Uint64
	isClosed *atomic.Bool
}

// NewRoutingDriver wires a routing driver over a pool and a table manager
// seeded with the construction address.
func NewRoutingDriver(
	seed ServerAddress,
	pool *ConnectionPool,
	settings RoutingSettings,
	clock clockwork.Clock,
	logger zerolog.Logger) (*RoutingDriver, error) {

	if _, reserved := settings.RoutingContext["address"]; reserved {
		return nil, NewConfigurationError("routing context must not override the reserved key %q", "address")
	}

	return &RoutingDriver{
		seed:     seed,
		pool:     pool,
		manager:  NewRoutingTableManager(pool, seed, settings.RoutingContext, clock, logger),
		settings: settings,
		clock:    clock,
		logger:   logger,
		readIdx:  atomic.NewUint64(0),
		writeIdx: atomic.NewUint64(0),
		isClosed: atomic.NewBool(false),
	}, nil
}

// Session opens a logical session routed per operation.
func (d *RoutingDriver) Session(defaultMode AccessMode) (*Session, error) {
	if d.isClosed.Load() {
		return nil, ErrDriverClosed
	}
	return newSession(d, defaultMode, d.logger), nil
}

// Run executes one query without bookmark chaining.
func (d *RoutingDriver) Run(ctx context.Context, mode AccessMode, query Query) (*Result, error) {
	return d.runWithMode(ctx, mode, query, "")
}

// Target returns the seed router address the driver was constructed with.
func (d *RoutingDriver) Target() ServerAddress {
	return d.seed
}

// Close shuts down the owned pool. Safe to call more than once.
func (d *RoutingDriver) Close() error {
	if !d.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	return d.pool.Shutdown()
}

// runWithMode walks the candidate list for the access mode in round-robin
// order. A failing candidate is removed from the operation's local view of
// the table; once the view is exhausted a single forced refresh is attempted
// before failing with ServiceUnavailable. Total retry time is bounded by the
// configured timeout, and the last underlying cause is always preserved.
func (d *RoutingDriver) runWithMode(ctx context.Context, mode AccessMode, query Query, bookmark string) (*Result, error) {
	if d.isClosed.Load() {
		return nil, ErrDriverClosed
	}

	deadline := d.clock.Now().Add(d.settings.RetryTimeout)

	table, err := d.manager.RoutingTableFor(ctx, d.database)
	if err != nil {
		return nil, err
	}

	candidates := snapshotCandidates(table, mode)
	refreshed := false
	var lastErr error

	for {
		if !d.clock.Now().Before(deadline) {
			return nil, &ServiceUnavailableError{
				Message: fmt.Sprintf("retry timeout of %s exceeded while running %s operation", d.settings.RetryTimeout, mode),
				Cause:   lastErr,
			}
		}

		if len(candidates) == 0 {
			if refreshed {
				return nil, &ServiceUnavailableError{
					Message: fmt.Sprintf("no %s server currently available", mode),
					Cause:   lastErr,
				}
			}

			refreshed = true
			d.manager.Invalidate(d.database)

			table, err = d.manager.RoutingTableFor(ctx, d.database)
			if err != nil {
				return nil, err
			}
			candidates = snapshotCandidates(table, mode)
			continue
		}

		pick := int(d.nextIndex(mode) % uint64(len(candidates)))
		address := candidates[pick]

		result, runErr := runOnPool(ctx, d.pool, address, query, bookmark)
		if runErr == nil {
			return result, nil
		}
		if !isRetryableFailure(runErr) {
			return nil, runErr
		}

		lastErr = runErr

		if isWriterLoss(runErr) {
			// Leader changed. Drop the shared table so every operation
			// re-discovers topology, not just this one.
			d.manager.Invalidate(d.database)
		}

		d.logger.Debug().
			Str("address", address.String()).
			Str("mode", mode.String()).
			Err(runErr).
			Msg("candidate failed, removing from operation view")

		candidates = append(candidates[:pick], candidates[pick+1:]...)
	}
}

func (d *RoutingDriver) closed() bool {
	return d.isClosed.Load()
}

func (d *RoutingDriver) nextIndex(mode AccessMode) uint64 {
	if mode == AccessModeRead {
		return d.readIdx.Inc() - 1
	}
	return d.writeIdx.Inc() - 1
}

func snapshotCandidates(table *RoutingTable, mode AccessMode) []ServerAddress {
	source := table.AddressesFor(mode)
	candidates := make([]ServerAddress, len(source))
	copy(candidates, source)
	return candidates
}
