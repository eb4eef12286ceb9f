package tgd

import (
	"context"
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// PoolSettings governs eviction, not acquisition: the pool may create
// connections beyond the idle cap but will not retain more than
// MaxIdlePerAddress idle ones per address. Negative means unbounded.
type PoolSettings struct {
	MaxIdlePerAddress int
}

// ConnectionPool owns a bounded set of idle connections keyed by server
// address, hands connections out and reclaims them, and evicts unhealthy
// ones. Partitions for different addresses never contend with each other.
type ConnectionPool struct {
	settings  PoolSettings
	connector Connector
	logger    zerolog.Logger

	partitions cmap.ConcurrentMap[string, *hostPool]

	inUseLock *sync.RWMutex
	inUse     map[uint64]*ConnectionHost

	closed *atomic.Bool
}

// hostPool is the per-address idle set. Its lock is held only for queue
// bookkeeping, never across a dial or a socket close.
type hostPool struct {
	address ServerAddress
	lock    *sync.Mutex
	idle    *queue.Queue
}

func newHostPool(address ServerAddress) *hostPool {
	return &hostPool{
		address: address,
		lock:    &sync.Mutex{},
		idle:    queue.New(4),
	}
}

// NewConnectionPool creates hosting structure for the ConnectionPool.
func NewConnectionPool(settings PoolSettings, connector Connector, logger zerolog.Logger) *ConnectionPool {
	return &ConnectionPool{
		settings:   settings,
		connector:  connector,
		logger:     logger,
		partitions: cmap.New[*hostPool](),
		inUseLock:  &sync.RWMutex{},
		inUse:      make(map[uint64]*ConnectionHost),
		closed:     atomic.NewBool(false),
	}
}

// Acquire hands out a connection for address. An idle connection that fails
// the liveness probe is discarded and acquisition retries; when no idle
// connection remains the connector performs a fresh handshake synchronously.
func (cp *ConnectionPool) Acquire(ctx context.Context, address ServerAddress) (*ConnectionHost, error) {
	if cp.closed.Load() {
		return nil, ErrConnectionPoolClosed
	}

	hp := cp.partition(address)

	for {
		host := hp.takeIdle()
		if host == nil {
			break
		}

		if host.IsHealthy() {
			if err := cp.trackInUse(host); err != nil {
				_ = host.Close()
				return nil, err
			}
			return host, nil
		}

		// Stale idle connection, destroy and probe the next one.
		cp.logger.Debug().
			Uint64("connection_id", host.ConnectionID).
			Str("address", address.String()).
			Msg("discarding unhealthy idle connection")
		_ = host.Close()
	}

	host, err := cp.connector.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	if err = cp.trackInUse(host); err != nil {
		_ = host.Close()
		return nil, err
	}

	return host, nil
}

// Release returns a connection to its idle set, or destroys it when the
// caller flagged it broken, the pool is closed, or the idle cap is reached.
// A broken connection is never returned to idle regardless of capacity.
func (cp *ConnectionPool) Release(host *ConnectionHost, flagBroken bool) {
	if host == nil {
		return
	}

	cp.untrackInUse(host)

	if flagBroken {
		host.MarkBroken()
	}

	if !host.IsHealthy() || !cp.tryReturnIdle(host) {
		_ = host.Close()
	}
}

// tryReturnIdle parks host on its idle queue. The closed flag is re-checked
// under the partition lock so a racing Shutdown cannot strand the host:
// Shutdown sets the flag before draining, and drain takes the same lock.
func (cp *ConnectionPool) tryReturnIdle(host *ConnectionHost) bool {
	hp := cp.partition(host.Address)

	hp.lock.Lock()
	defer hp.lock.Unlock()

	if cp.closed.Load() {
		return false
	}
	if cp.settings.MaxIdlePerAddress >= 0 && hp.idle.Len() >= int64(cp.settings.MaxIdlePerAddress) {
		return false
	}

	_ = hp.idle.Put(host)
	return true
}

// Shutdown closes every idle and in-use connection the pool still tracks and
// transitions it into a terminal state. Subsequent Acquire calls fail with
// ErrConnectionPoolClosed. Close failures are aggregated, not dropped.
func (cp *ConnectionPool) Shutdown() error {
	if !cp.closed.CompareAndSwap(false, true) {
		return nil
	}

	var result error

	cp.inUseLock.Lock()
	tracked := cp.inUse
	cp.inUse = make(map[uint64]*ConnectionHost)
	cp.inUseLock.Unlock()

	for _, host := range tracked {
		result = multierr.Append(result, host.Close())
	}

	for tuple := range cp.partitions.IterBuffered() {
		for _, host := range tuple.Val.drain() {
			result = multierr.Append(result, host.Close())
		}
	}

	return result
}

// IdleCount reports the current idle-set size for an address.
func (cp *ConnectionPool) IdleCount(address ServerAddress) int {
	hp, ok := cp.partitions.Get(address.String())
	if !ok {
		return 0
	}

	hp.lock.Lock()
	defer hp.lock.Unlock()
	return int(hp.idle.Len())
}

// InUseCount reports how many connections are currently handed out.
func (cp *ConnectionPool) InUseCount() int {
	cp.inUseLock.RLock()
	defer cp.inUseLock.RUnlock()
	return len(cp.inUse)
}

func (cp *ConnectionPool) partition(address ServerAddress) *hostPool {
	key := address.String()
	if hp, ok := cp.partitions.Get(key); ok {
		return hp
	}

	cp.partitions.SetIfAbsent(key, newHostPool(address))
	hp, _ := cp.partitions.Get(key)
	return hp
}

// trackInUse records the hand-out. It re-checks the closed flag under the
// registry lock so a racing Shutdown cannot miss the connection.
func (cp *ConnectionPool) trackInUse(host *ConnectionHost) error {
	cp.inUseLock.Lock()
	defer cp.inUseLock.Unlock()

	if cp.closed.Load() {
		return ErrConnectionPoolClosed
	}

	cp.inUse[host.ConnectionID] = host
	return nil
}

func (cp *ConnectionPool) untrackInUse(host *ConnectionHost) {
	cp.inUseLock.Lock()
	defer cp.inUseLock.Unlock()
	delete(cp.inUse, host.ConnectionID)
}

func (hp *hostPool) takeIdle() *ConnectionHost {
	hp.lock.Lock()
	defer hp.lock.Unlock()

	if hp.idle.Empty() {
		return nil
	}

	items, err := hp.idle.Get(1)
	if err != nil || len(items) == 0 {
		return nil
	}

	return items[0].(*ConnectionHost)
}

func (hp *hostPool) drain() []*ConnectionHost {
	hp.lock.Lock()
	defer hp.lock.Unlock()

	hosts := make([]*ConnectionHost, 0, hp.idle.Len())
	for !hp.idle.Empty() {
		items, err := hp.idle.Get(hp.idle.Len())
		if err != nil {
			break
		}
		for _, item := range items {
			hosts = append(hosts, item.(*ConnectionHost))
		}
	}

	return hosts
}
