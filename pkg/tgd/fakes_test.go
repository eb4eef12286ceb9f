package tgd

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// fakeWireConn is a scriptable in-memory connection.
type fakeWireConn struct {
	address  ServerAddress
	alive    *atomic.Bool
	isClosed *atomic.Bool
	closeErr error
	runFn    func(ctx context.Context, query Query) (*Result, error)
	runCalls *atomic.Int64
}

func newFakeWireConn(address ServerAddress) *fakeWireConn {
	return &fakeWireConn{
		address:  address,
		alive:    atomic.NewBool(true),
		isClosed: atomic.NewBool(false),
		runCalls: atomic.NewInt64(0),
	}
}

func (c *fakeWireConn) Run(ctx context.Context, query Query) (*Result, error) {
	c.runCalls.Inc()
	if c.runFn != nil {
		return c.runFn(ctx, query)
	}
	return &Result{Summary: Summary{Server: c.address}}, nil
}

func (c *fakeWireConn) IsAlive() bool {
	return c.alive.Load() && !c.isClosed.Load()
}

func (c *fakeWireConn) Close() error {
	c.isClosed.Store(true)
	return c.closeErr
}

// fakeConnector fabricates fakeWireConns, one per Connect call. Behavior per
// address is scripted through runFnFor.
type fakeConnector struct {
	mu        sync.Mutex
	nextID    uint64
	dials     map[string]int
	conns     []*fakeWireConn
	closeErr  error
	connectFn func(ctx context.Context, address ServerAddress) (*ConnectionHost, error)
	runFnFor  func(address ServerAddress) func(ctx context.Context, query Query) (*Result, error)
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{dials: make(map[string]int)}
}

func (f *fakeConnector) Connect(ctx context.Context, address ServerAddress) (*ConnectionHost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials[address.String()]++

	if f.connectFn != nil {
		return f.connectFn(ctx, address)
	}

	conn := newFakeWireConn(address)
	conn.closeErr = f.closeErr
	if f.runFnFor != nil {
		conn.runFn = f.runFnFor(address)
	}
	f.conns = append(f.conns, conn)

	f.nextID++
	return NewConnectionHost(f.nextID, address, conn), nil
}

func (f *fakeConnector) dialCount(address ServerAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials[address.String()]
}

func (f *fakeConnector) totalDials() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, count := range f.dials {
		total += count
	}
	return total
}

func (f *fakeConnector) openConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	open := 0
	for _, conn := range f.conns {
		if !conn.isClosed.Load() {
			open++
		}
	}
	return open
}

func toInterfaceSlice(values []string) []interface{} {
	result := make([]interface{}, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}

// routingResult builds the topology procedure response the cluster returns.
func routingResult(ttl int64, routers, readers, writers []string) *Result {
	servers := []interface{}{
		map[string]interface{}{"role": "ROUTE", "addresses": toInterfaceSlice(routers)},
		map[string]interface{}{"role": "READ", "addresses": toInterfaceSlice(readers)},
		map[string]interface{}{"role": "WRITE", "addresses": toInterfaceSlice(writers)},
	}

	return &Result{
		Records: []*Record{{
			Keys:   []string{"ttl", "servers"},
			Values: []interface{}{ttl, servers},
		}},
	}
}
