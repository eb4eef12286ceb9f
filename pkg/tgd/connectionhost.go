package tgd

import (
	"go.uber.org/atomic"
)

// ConnectionHost is the pool's wrapper around one physical connection.
// It is in exactly one of three states at any instant: idle (owned by the
// pool), in-use (owned by the caller) or broken (destroyed, never pooled).
type ConnectionHost struct {
	Conn         WireConn
	ConnectionID uint64
	Address      ServerAddress

	broken *atomic.Bool
	closed *atomic.Bool
}

// NewConnectionHost wraps a live wire connection for pool management.
func NewConnectionHost(connectionID uint64, address ServerAddress, conn WireConn) *ConnectionHost {
	return &ConnectionHost{
		Conn:         conn,
		ConnectionID: connectionID,
		Address:      address,
		broken:       atomic.NewBool(false),
		closed:       atomic.NewBool(false),
	}
}

// MarkBroken flags the connection so it is destroyed instead of pooled.
func (ch *ConnectionHost) MarkBroken() {
	ch.broken.Store(true)
}

// IsBroken reports whether a protocol-level fatal error was observed.
func (ch *ConnectionHost) IsBroken() bool {
	return ch.broken.Load()
}

// IsHealthy is the liveness probe used before reusing an idle connection.
func (ch *ConnectionHost) IsHealthy() bool {
	return !ch.broken.Load() && !ch.closed.Load() && ch.Conn.IsAlive()
}

// Close destroys the underlying socket. Safe to call more than once.
func (ch *ConnectionHost) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}
	return ch.Conn.Close()
}
