package tgd

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = NewServerAddress("graph-1", 7687)

func newTestPool(maxIdle int) (*ConnectionPool, *fakeConnector) {
	connector := newFakeConnector()
	pool := NewConnectionPool(PoolSettings{MaxIdlePerAddress: maxIdle}, connector, NopLogger())
	return pool, connector
}

func TestPoolAcquireReusesIdleConnection(t *testing.T) {
	pool, connector := newTestPool(2)
	defer func() { _ = pool.Shutdown() }()

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	firstID := host.ConnectionID

	pool.Release(host, false)
	assert.Equal(t, 1, pool.IdleCount(testAddress))

	host, err = pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, firstID, host.ConnectionID)
	assert.Equal(t, 1, connector.dialCount(testAddress))

	pool.Release(host, false)
}

func TestPoolReleaseNeverRetainsMoreThanMaxIdle(t *testing.T) {
	pool, connector := newTestPool(2)
	defer func() { _ = pool.Shutdown() }()

	hosts := make([]*ConnectionHost, 0, 4)
	for i := 0; i < 4; i++ {
		host, err := pool.Acquire(context.Background(), testAddress)
		require.NoError(t, err)
		hosts = append(hosts, host)
	}
	assert.Equal(t, 4, connector.dialCount(testAddress))

	for _, host := range hosts {
		pool.Release(host, false)
		assert.LessOrEqual(t, pool.IdleCount(testAddress), 2)
	}

	assert.Equal(t, 2, pool.IdleCount(testAddress))
	assert.Equal(t, 2, connector.openConns())
}

func TestPoolZeroIdleCapRetainsNothing(t *testing.T) {
	pool, _ := newTestPool(0)
	defer func() { _ = pool.Shutdown() }()

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)

	pool.Release(host, false)
	assert.Equal(t, 0, pool.IdleCount(testAddress))
}

func TestPoolNegativeIdleCapIsUnbounded(t *testing.T) {
	pool, _ := newTestPool(-1)
	defer func() { _ = pool.Shutdown() }()

	hosts := make([]*ConnectionHost, 0, 5)
	for i := 0; i < 5; i++ {
		host, err := pool.Acquire(context.Background(), testAddress)
		require.NoError(t, err)
		hosts = append(hosts, host)
	}
	for _, host := range hosts {
		pool.Release(host, false)
	}

	assert.Equal(t, 5, pool.IdleCount(testAddress))
}

func TestPoolBrokenConnectionNeverReturnsToIdle(t *testing.T) {
	pool, connector := newTestPool(5)
	defer func() { _ = pool.Shutdown() }()

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)

	pool.Release(host, true)
	assert.Equal(t, 0, pool.IdleCount(testAddress))
	assert.Equal(t, 0, connector.openConns())

	// The next acquire dials fresh instead of resurrecting the broken one.
	host, err = pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, 2, connector.dialCount(testAddress))
	pool.Release(host, false)
}

func TestPoolDiscardsDeadIdleAndDialsFresh(t *testing.T) {
	pool, connector := newTestPool(2)
	defer func() { _ = pool.Shutdown() }()

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	pool.Release(host, false)

	// The idle connection dies while cached.
	connector.conns[0].alive.Store(false)

	host, err = pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	assert.True(t, connector.conns[0].isClosed.Load())
	assert.Equal(t, 2, connector.dialCount(testAddress))
	pool.Release(host, false)
}

func TestPoolAddressPartitionsAreIndependent(t *testing.T) {
	pool, _ := newTestPool(2)
	defer func() { _ = pool.Shutdown() }()

	other := NewServerAddress("graph-2", 7687)

	first, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background(), other)
	require.NoError(t, err)

	pool.Release(first, false)
	pool.Release(second, false)

	assert.Equal(t, 1, pool.IdleCount(testAddress))
	assert.Equal(t, 1, pool.IdleCount(other))
}

func TestPoolShutdownClosesEverythingAndRejectsAcquire(t *testing.T) {
	defer leaktest.Check(t)()

	pool, connector := newTestPool(5)

	idle, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	pool.Release(idle, false)

	inUse, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	_ = inUse

	require.NoError(t, pool.Shutdown())
	assert.Equal(t, 0, connector.openConns())

	_, err = pool.Acquire(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrConnectionPoolClosed)
}

func TestPoolShutdownAggregatesCloseFailures(t *testing.T) {
	connector := newFakeConnector()
	connector.closeErr = fmt.Errorf("socket close failed")
	pool := NewConnectionPool(PoolSettings{MaxIdlePerAddress: 5}, connector, NopLogger())

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	_ = host

	err = pool.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket close failed")
}

func TestPoolShutdownRacingReleaseClosesInsteadOfPooling(t *testing.T) {
	pool, connector := newTestPool(5)

	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)

	// A release in progress has already untracked the host when Shutdown
	// runs, so Shutdown finds it in neither the in-use map nor the idle set.
	pool.untrackInUse(host)
	require.NoError(t, pool.Shutdown())

	// The terminal pool must refuse the host so the late release closes it.
	assert.False(t, pool.tryReturnIdle(host))
	pool.Release(host, false)

	assert.Equal(t, 0, pool.IdleCount(testAddress))
	assert.Equal(t, 0, connector.openConns())
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	pool, _ := newTestPool(2)

	require.NoError(t, pool.Shutdown())
	require.NoError(t, pool.Shutdown())
}

func TestPoolConcurrentAcquireReleaseKeepsInvariants(t *testing.T) {
	defer leaktest.Check(t)()

	pool, _ := newTestPool(3)
	defer func() { _ = pool.Shutdown() }()

	wg := &sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				host, err := pool.Acquire(context.Background(), testAddress)
				if !assert.NoError(t, err) {
					return
				}
				pool.Release(host, j%17 == 0)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.IdleCount(testAddress), 3)
	assert.Equal(t, 0, pool.InUseCount())
}
