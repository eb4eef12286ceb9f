package tgd

import (
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// URI schemes selecting the driver mode.
const (
	SchemeDirect  = "bolt"
	SchemeRouting = "bolt+routing"
)

type driverOptions struct {
	logger    zerolog.Logger
	clock     clockwork.Clock
	connector Connector
	codec     WireCodecFactory
}

// DriverOption customizes driver construction.
type DriverOption func(*driverOptions)

// WithLogger routes driver events to logger instead of discarding them.
func WithLogger(logger zerolog.Logger) DriverOption {
	return func(o *driverOptions) { o.logger = logger }
}

// WithClock replaces the wall clock, used by tests to advance time
// deterministically.
func WithClock(clock clockwork.Clock) DriverOption {
	return func(o *driverOptions) { o.clock = clock }
}

// WithConnector replaces the production socket connector entirely.
func WithConnector(connector Connector) DriverOption {
	return func(o *driverOptions) { o.connector = connector }
}

// WithWireCodecFactory supplies the wire codec the socket connector hands
// each handshaken socket to. Required unless WithConnector is used.
func WithWireCodecFactory(codec WireCodecFactory) DriverOption {
	return func(o *driverOptions) { o.codec = codec }
}

// NewDriver is the single entry point: it resolves the security plan, builds
// the connection pool, then dispatches on the URI scheme to construct either
// a direct or a routing driver. If construction fails after the pool was
// created, the pool is closed before the error propagates; a close failure
// is attached to the original cause, never replacing it.
func NewDriver(uri string, seasoning *DriverSeasoning, opts ...DriverOption) (Driver, error) {
	options := &driverOptions{
		logger: NopLogger(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if seasoning == nil {
		seasoning = DefaultSeasoning()
	}
	seasoning.fillDefaults()

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, WrapConfigurationError(err, "invalid connection uri %q", uri)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != SchemeDirect && scheme != SchemeRouting {
		return nil, NewConfigurationError("unsupported URI scheme: %s", parsed.Scheme)
	}

	address, err := ServerAddressFromURI(parsed)
	if err != nil {
		return nil, err
	}

	if options.connector == nil && options.codec == nil {
		return nil, NewConfigurationError("no wire codec factory configured; use WithWireCodecFactory or WithConnector")
	}

	plan, err := NewSecurityPlan(seasoning.SecurityConfig, options.logger)
	if err != nil {
		return nil, err
	}

	connector := options.connector
	if connector == nil {
		connector = NewSocketConnector(connectionSettings(seasoning), plan, options.codec, options.logger)
	}

	pool := NewConnectionPool(
		PoolSettings{MaxIdlePerAddress: seasoning.PoolConfig.MaxIdlePerAddress},
		connector,
		options.logger,
	)

	return buildDriverWithPool(scheme, address, pool, seasoning, options)
}

// buildDriverWithPool dispatches on the scheme once the pool exists. If the
// driver cannot be constructed the pool is closed here, and a close failure
// is appended to the construction error so the original cause stays first.
func buildDriverWithPool(scheme string, address ServerAddress, pool *ConnectionPool, seasoning *DriverSeasoning, options *driverOptions) (Driver, error) {
	driver, err := createDriver(scheme, address, pool, seasoning, options)
	if err != nil {
		if closeErr := pool.Shutdown(); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
		return nil, err
	}

	return driver, nil
}

func createDriver(scheme string, address ServerAddress, pool *ConnectionPool, seasoning *DriverSeasoning, options *driverOptions) (Driver, error) {
	switch scheme {
	case SchemeDirect:
		return NewDirectDriver(address, pool, options.logger), nil
	case SchemeRouting:
		settings := RoutingSettings{
			RoutingContext: seasoning.RoutingConfig.RoutingContext,
			RetryTimeout:   time.Duration(seasoning.RoutingConfig.RetryTimeoutMillis) * time.Millisecond,
		}
		return NewRoutingDriver(address, pool, settings, options.clock, options.logger)
	default:
		return nil, NewConfigurationError("unsupported URI scheme: %s", scheme)
	}
}

func connectionSettings(seasoning *DriverSeasoning) ConnectionSettings {
	conn := seasoning.ConnectionConfig

	auth := NoAuth()
	if conn.Principal != "" {
		auth = BasicAuth(conn.Principal, conn.Credentials, conn.Realm)
	}

	return ConnectionSettings{
		Auth:        auth,
		UserAgent:   seasoning.PoolConfig.ApplicationName,
		DialTimeout: time.Duration(conn.ConnectionTimeout) * time.Second,
	}
}
