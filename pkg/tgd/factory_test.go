package tgd

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestNewDriverUnsupportedSchemeFailsBeforeAnythingExists(t *testing.T) {
	connector := newFakeConnector()

	_, err := NewDriver("foo://host:7000", nil, WithConnector(connector))

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "unsupported URI scheme")
	assert.Equal(t, 0, connector.totalDials())
}

func TestNewDriverDispatchesOnScheme(t *testing.T) {
	connector := newFakeConnector()

	direct, err := NewDriver("bolt://graph-1:7687", nil, WithConnector(connector))
	require.NoError(t, err)
	defer func() { _ = direct.Close() }()
	assert.IsType(t, &DirectDriver{}, direct)
	assert.Equal(t, NewServerAddress("graph-1", 7687), direct.Target())

	routing, err := NewDriver("bolt+routing://cluster:7687", nil, WithConnector(connector))
	require.NoError(t, err)
	defer func() { _ = routing.Close() }()
	assert.IsType(t, &RoutingDriver{}, routing)
}

func TestNewDriverDefaultsPortWhenOmitted(t *testing.T) {
	driver, err := NewDriver("bolt://graph-1", nil, WithConnector(newFakeConnector()))
	require.NoError(t, err)
	defer func() { _ = driver.Close() }()

	assert.Equal(t, DefaultPort, driver.Target().Port)
}

func TestNewDriverRequiresWireCodecOrConnector(t *testing.T) {
	_, err := NewDriver("bolt://graph-1:7687", nil)

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "codec")
}

func TestNewDriverBadSecurityConfigSurfacesBeforePool(t *testing.T) {
	seasoning := DefaultSeasoning()
	seasoning.SecurityConfig = &SecurityConfig{
		EncryptionLevel: EncryptionRequired,
		TrustStrategy:   TrustStrategy("TOTAL_NONSENSE"),
	}

	_, err := NewDriver("bolt://graph-1:7687", seasoning, WithConnector(newFakeConnector()))

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestNewDriverConstructionFailureClosesPool(t *testing.T) {
	seasoning := DefaultSeasoning()
	seasoning.RoutingConfig.RoutingContext = map[string]string{"address": "sneaky:7687"}

	_, err := NewDriver("bolt+routing://cluster:7687", seasoning, WithConnector(newFakeConnector()))

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "reserved")
}

func TestBuildDriverWithPoolAttachesCloseFailureToOriginalError(t *testing.T) {
	connector := newFakeConnector()
	connector.closeErr = errors.New("lingering socket")

	pool := NewConnectionPool(PoolSettings{MaxIdlePerAddress: 5}, connector, NopLogger())

	// Leave one connection in the pool so its close failure surfaces.
	host, err := pool.Acquire(context.Background(), testAddress)
	require.NoError(t, err)
	pool.Release(host, false)

	seasoning := DefaultSeasoning()
	seasoning.RoutingConfig.RoutingContext = map[string]string{"address": "sneaky:7687"}
	options := &driverOptions{logger: NopLogger(), clock: clockwork.NewRealClock()}

	_, err = buildDriverWithPool(SchemeRouting, testAddress, pool, seasoning, options)
	require.Error(t, err)

	// The original configuration error stays first; the pool-close failure
	// rides along as secondary information.
	unwrapped := multierr.Errors(err)
	require.Len(t, unwrapped, 2)
	var configErr *ConfigurationError
	assert.ErrorAs(t, unwrapped[0], &configErr)
	assert.Contains(t, unwrapped[1].Error(), "lingering socket")

	// And the pool really is terminal.
	_, err = pool.Acquire(context.Background(), testAddress)
	assert.ErrorIs(t, err, ErrConnectionPoolClosed)
}

func TestNewDriverAppliesSeasoningDefaults(t *testing.T) {
	driver, err := NewDriver("bolt://graph-1:7687", &DriverSeasoning{}, WithConnector(newFakeConnector()))
	require.NoError(t, err)
	defer func() { _ = driver.Close() }()
}
