package tgd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// routingProcedure is the well-known topology query issued against a router.
const routingProcedure = "CALL dbms.cluster.routing.getRoutingTable($context, $database)"

// RoutingTableManager maintains the per-database view of which addresses
// serve reads, writes and routing queries. Tables are replaced atomically as
// whole snapshots; refreshes for the same database are coalesced so
// concurrent callers observing staleness trigger exactly one topology query.
type RoutingTableManager struct {
	pool           *ConnectionPool
	seed           ServerAddress
	routingContext map[string]string
	clock          clockwork.Clock
	logger         zerolog.Logger

	tables cmap.ConcurrentMap[string, *atomic.Pointer[RoutingTable]]
	group  *singleflight.Group
}

// NewRoutingTableManager creates a manager that refreshes through pool,
// starting from the seed router address supplied at driver construction.
func NewRoutingTableManager(
	pool *ConnectionPool,
	seed ServerAddress,
	routingContext map[string]string,
	clock clockwork.Clock,
	logger zerolog.Logger) *RoutingTableManager {

	return &RoutingTableManager{
		pool:           pool,
		seed:           seed,
		routingContext: routingContext,
		clock:          clock,
		logger:         logger,
		tables:         cmap.New[*atomic.Pointer[RoutingTable]](),
		group:          &singleflight.Group{},
	}
}

// RoutingTableFor returns the current table for database, refreshing first
// when the cached one is missing or stale.
func (m *RoutingTableManager) RoutingTableFor(ctx context.Context, database string) (*RoutingTable, error) {
	if table := m.current(database); table != nil && !table.IsStale(m.clock.Now()) {
		return table, nil
	}

	value, err, _ := m.group.Do(database, func() (interface{}, error) {
		// Re-check inside the flight: a just-finished refresh may have
		// installed a fresh table while this caller was queued.
		if table := m.current(database); table != nil && !table.IsStale(m.clock.Now()) {
			return table, nil
		}
		return m.refresh(ctx, database)
	})
	if err != nil {
		return nil, err
	}

	return value.(*RoutingTable), nil
}

// Invalidate marks the cached table stale so the next lookup forces a
// refresh. The router list survives so the refresh can still reach the
// cluster. Used when a writer turns out to have lost its role. A refresh
// landing concurrently wins: its table is newer than the one observed here.
func (m *RoutingTableManager) Invalidate(database string) {
	pointer, ok := m.tables.Get(database)
	if !ok {
		return
	}

	table := pointer.Load()
	if table == nil {
		return
	}

	expired := *table
	expired.ExpiresAt = time.Time{}
	pointer.CompareAndSwap(table, &expired)
}

func (m *RoutingTableManager) current(database string) *RoutingTable {
	pointer, ok := m.tables.Get(database)
	if !ok {
		return nil
	}
	return pointer.Load()
}

// refresh walks the known routers (or the seed on first use), queries the
// cluster topology and swaps in the parsed table whole.
func (m *RoutingTableManager) refresh(ctx context.Context, database string) (*RoutingTable, error) {
	routers := m.candidateRouters(database)

	var lastErr error
	for _, router := range routers {
		table, err := m.fetch(ctx, database, router)
		if err != nil {
			var protocolErr *ProtocolError
			if errors.As(err, &protocolErr) {
				// A router answering garbage is fatal, not a failover case.
				return nil, err
			}

			m.logger.Debug().
				Str("router", router.String()).
				Str("database", database).
				Err(err).
				Msg("routing table refresh failed, trying next router")
			lastErr = err
			continue
		}

		m.store(database, table)
		m.logger.Debug().
			Str("database", database).
			Int("routers", len(table.Routers)).
			Int("readers", len(table.Readers)).
			Int("writers", len(table.Writers)).
			Msg("routing table refreshed")

		return table, nil
	}

	return nil, &ServiceUnavailableError{
		Message: fmt.Sprintf("could not refresh routing table for database %q, no router reachable", database),
		Cause:   lastErr,
	}
}

func (m *RoutingTableManager) candidateRouters(database string) []ServerAddress {
	if table := m.current(database); table != nil && len(table.Routers) > 0 {
		return table.Routers
	}
	return []ServerAddress{m.seed}
}

func (m *RoutingTableManager) fetch(ctx context.Context, database string, router ServerAddress) (*RoutingTable, error) {
	host, err := m.pool.Acquire(ctx, router)
	if err != nil {
		return nil, err
	}

	result, err := host.Conn.Run(ctx, Query{
		Text: routingProcedure,
		Parameters: map[string]interface{}{
			"context":  m.routingContext,
			"database": database,
		},
	})
	if err != nil {
		m.pool.Release(host, true)
		return nil, err
	}

	m.pool.Release(host, false)

	if len(result.Records) != 1 {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed routing table response: expected 1 record, got %d", len(result.Records))}
	}

	return parseRoutingTable(database, result.Records[0], m.clock.Now())
}

func (m *RoutingTableManager) store(database string, table *RoutingTable) {
	if pointer, ok := m.tables.Get(database); ok {
		pointer.Store(table)
		return
	}

	pointer := atomic.NewPointer(table)
	if !m.tables.SetIfAbsent(database, pointer) {
		if existing, ok := m.tables.Get(database); ok {
			existing.Store(table)
		}
	}
}
