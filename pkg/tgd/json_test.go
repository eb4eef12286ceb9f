package tgd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seasoningJSON = `{
	"PoolConfig": {
		"ApplicationName": "movies-api",
		"MaxIdlePerAddress": 7
	},
	"SecurityConfig": {
		"EncryptionLevel": "REQUIRED",
		"TrustStrategy": "TRUST_CUSTOM_CA_SIGNED_CERTIFICATES",
		"CertFile": "/etc/certs/ca.pem"
	},
	"RoutingConfig": {
		"RoutingContext": {"region": "eu"},
		"RetryTimeoutMillis": 15000
	},
	"ConnectionConfig": {
		"Principal": "neo4j",
		"Credentials": "secret",
		"ConnectionTimeout": 10
	}
}`

func TestConvertJSONFileToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seasoning.json")
	require.NoError(t, os.WriteFile(path, []byte(seasoningJSON), 0600))

	seasoning, err := ConvertJSONFileToConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "movies-api", seasoning.PoolConfig.ApplicationName)
	assert.Equal(t, 7, seasoning.PoolConfig.MaxIdlePerAddress)
	assert.Equal(t, EncryptionRequired, seasoning.SecurityConfig.EncryptionLevel)
	assert.Equal(t, TrustCustomCASignedCertificates, seasoning.SecurityConfig.TrustStrategy)
	assert.Equal(t, map[string]string{"region": "eu"}, seasoning.RoutingConfig.RoutingContext)
	assert.EqualValues(t, 15000, seasoning.RoutingConfig.RetryTimeoutMillis)
	assert.Equal(t, "neo4j", seasoning.ConnectionConfig.Principal)
}

func TestConvertJSONFileToConfigMissingFile(t *testing.T) {
	_, err := ConvertJSONFileToConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestConvertJSONBytesToConfig(t *testing.T) {
	seasoning, err := ConvertJSONBytesToConfig([]byte(`{"PoolConfig":{"MaxIdlePerAddress":-1}}`))
	require.NoError(t, err)
	assert.Equal(t, -1, seasoning.PoolConfig.MaxIdlePerAddress)
	assert.Nil(t, seasoning.RoutingConfig)

	seasoning.fillDefaults()
	assert.NotNil(t, seasoning.RoutingConfig)
	assert.EqualValues(t, defaultRetryTimeoutMillis, seasoning.RoutingConfig.RetryTimeoutMillis)
}
