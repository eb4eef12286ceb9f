package tgd

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
)

// WireConn is a live logical connection: raw socket plus wire codec. The
// codec side owns the actual protocol; the core only runs queries over it.
type WireConn interface {
	Run(ctx context.Context, query Query) (*Result, error)
	IsAlive() bool
	Close() error
}

// Connector performs the handshake and yields a live logical connection for
// an address. The pool is its only caller.
type Connector interface {
	Connect(ctx context.Context, address ServerAddress) (*ConnectionHost, error)
}

// AuthToken carries the credentials bound at pool-construction time.
type AuthToken struct {
	Scheme      string
	Principal   string
	Credentials string
	Realm       string
}

// BasicAuth creates a principal/credentials token, optionally with a realm.
func BasicAuth(principal, credentials, realm string) AuthToken {
	return AuthToken{Scheme: "basic", Principal: principal, Credentials: credentials, Realm: realm}
}

// NoAuth creates the empty token for servers without authentication.
func NoAuth() AuthToken {
	return AuthToken{Scheme: "none"}
}

// ConnectionSettings are shared by every physical connection the pool creates.
type ConnectionSettings struct {
	Auth        AuthToken
	UserAgent   string
	DialTimeout time.Duration
}

// ProtocolVersion is the wire protocol version agreed during the handshake.
type ProtocolVersion struct {
	Major int
	Minor int
}

func (pv ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", pv.Major, pv.Minor)
}

// WireCodecFactory turns a freshly handshaken socket into a logical
// connection. It owns message encoding and the authentication exchange.
type WireCodecFactory func(conn net.Conn, version ProtocolVersion, address ServerAddress, auth AuthToken) (WireConn, error)

var handshakeMagic = [4]byte{0x60, 0x60, 0xB0, 0x17}

// Versions proposed during the handshake, most preferred first.
var proposedVersions = [4]uint32{0x00000404, 0x00000403, 0x00000004, 0x00000003}

const (
	dialRetryAttempts = 2
	dialRetryBase     = 250 * time.Millisecond
)

// SocketConnector dials, secures and handshakes physical connections, then
// hands the socket to the codec factory together with the credentials.
type SocketConnector struct {
	settings     ConnectionSettings
	securityPlan *SecurityPlan
	codec        WireCodecFactory
	logger       zerolog.Logger
	connectionID *atomic.Uint64
}

// NewSocketConnector creates the production Connector.
func NewSocketConnector(settings ConnectionSettings, plan *SecurityPlan, codec WireCodecFactory, logger zerolog.Logger) *SocketConnector {
	return &SocketConnector{
		settings:     settings,
		securityPlan: plan,
		codec:        codec,
		logger:       logger,
		connectionID: atomic.NewUint64(0),
	}
}

// Connect establishes one connection to address. Dial failures are retried
// with fibonacci backoff before giving up; handshake and codec failures
// close the socket before returning.
func (sc *SocketConnector) Connect(ctx context.Context, address ServerAddress) (*ConnectionHost, error) {
	var socket net.Conn

	backoff := retry.WithMaxRetries(dialRetryAttempts, retry.NewFibonacci(dialRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialed, dialErr := sc.dial(ctx, address)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		socket = dialed
		return nil
	})
	if err != nil {
		return nil, &ServiceUnavailableError{
			Message: fmt.Sprintf("unable to connect to %s", address),
			Cause:   err,
		}
	}

	version, err := sc.handshake(socket)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}

	conn, err := sc.codec(socket, version, address, sc.settings.Auth)
	if err != nil {
		_ = socket.Close()
		return nil, err
	}

	id := sc.connectionID.Inc()
	sc.logger.Debug().
		Uint64("connection_id", id).
		Str("address", address.String()).
		Str("version", version.String()).
		Msg("connection established")

	return NewConnectionHost(id, address, conn), nil
}

func (sc *SocketConnector) dial(ctx context.Context, address ServerAddress) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: sc.settings.DialTimeout}

	socket, err := dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return nil, err
	}

	if !sc.securityPlan.RequiresEncryption() {
		return socket, nil
	}

	tlsConn := tls.Client(socket, sc.securityPlan.TLSConfigFor(address))
	if err = tlsConn.HandshakeContext(ctx); err != nil {
		_ = socket.Close()
		return nil, err
	}

	return tlsConn, nil
}

// handshake writes the protocol preamble plus four version proposals and
// reads back the version the server agreed to.
func (sc *SocketConnector) handshake(socket net.Conn) (ProtocolVersion, error) {
	request := make([]byte, 0, 20)
	request = append(request, handshakeMagic[:]...)
	for _, proposal := range proposedVersions {
		request = binary.BigEndian.AppendUint32(request, proposal)
	}

	if _, err := socket.Write(request); err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: handshake write failed: %v", ErrConnectionBroken, err)
	}

	// The agreed-version word may arrive split across TCP segments.
	var response [4]byte
	if _, err := io.ReadFull(socket, response[:]); err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: handshake read failed: %v", ErrConnectionBroken, err)
	}

	agreed := binary.BigEndian.Uint32(response[:])
	if agreed == 0 {
		return ProtocolVersion{}, fmt.Errorf("%w: server rejected every proposed protocol version", ErrConnectionBroken)
	}

	return ProtocolVersion{Major: int(agreed & 0xFF), Minor: int(agreed >> 8 & 0xFF)}, nil
}
