package tgd

// EncryptionLevel selects whether connections are wrapped in TLS.
type EncryptionLevel string

const (
	// EncryptionOptional yields plaintext connections regardless of trust strategy.
	EncryptionOptional EncryptionLevel = "OPTIONAL"

	// EncryptionRequired yields TLS connections verified per the trust strategy.
	EncryptionRequired EncryptionLevel = "REQUIRED"
)

// TrustStrategy is the policy governing which TLS certificates are accepted.
type TrustStrategy string

const (
	// TrustOnFirstUse pins the first certificate fingerprint seen per address.
	// Deprecated: use TrustAllCertificates instead.
	TrustOnFirstUse TrustStrategy = "TRUST_ON_FIRST_USE"

	// TrustSignedCertificates verifies against a custom CA file.
	// Deprecated: use TrustCustomCASignedCertificates instead.
	TrustSignedCertificates TrustStrategy = "TRUST_SIGNED_CERTIFICATES"

	// TrustCustomCASignedCertificates verifies the chain against a CA file.
	TrustCustomCASignedCertificates TrustStrategy = "TRUST_CUSTOM_CA_SIGNED_CERTIFICATES"

	// TrustSystemCASignedCertificates verifies the chain against system roots.
	TrustSystemCASignedCertificates TrustStrategy = "TRUST_SYSTEM_CA_SIGNED_CERTIFICATES"

	// TrustAllCertificates disables certificate verification entirely.
	TrustAllCertificates TrustStrategy = "TRUST_ALL_CERTIFICATES"
)

// DriverSeasoning represents the configuration values.
type DriverSeasoning struct {
	PoolConfig       *PoolConfig       `json:"PoolConfig" yaml:"PoolConfig"`
	SecurityConfig   *SecurityConfig   `json:"SecurityConfig" yaml:"SecurityConfig"`
	RoutingConfig    *RoutingConfig    `json:"RoutingConfig" yaml:"RoutingConfig"`
	ConnectionConfig *ConnectionConfig `json:"ConnectionConfig" yaml:"ConnectionConfig"`
}

// PoolConfig represents settings for creating/configuring the connection pool.
type PoolConfig struct {
	ApplicationName   string `json:"ApplicationName" yaml:"ApplicationName"`
	MaxIdlePerAddress int    `json:"MaxIdlePerAddress" yaml:"MaxIdlePerAddress"` // negative = unbounded, zero = retain none
}

// SecurityConfig represents settings for resolving the transport security plan.
type SecurityConfig struct {
	EncryptionLevel EncryptionLevel `json:"EncryptionLevel" yaml:"EncryptionLevel"`
	TrustStrategy   TrustStrategy   `json:"TrustStrategy" yaml:"TrustStrategy"`
	CertFile        string          `json:"CertFile,omitempty" yaml:"CertFile,omitempty"`
	KnownHostsFile  string          `json:"KnownHostsFile,omitempty" yaml:"KnownHostsFile,omitempty"` // trust-on-first-use fingerprint store
}

// RoutingConfig represents settings for cluster routing mode.
type RoutingConfig struct {
	RoutingContext     map[string]string `json:"RoutingContext,omitempty" yaml:"RoutingContext,omitempty"` // forwarded verbatim to the topology query
	RetryTimeoutMillis uint32            `json:"RetryTimeoutMillis" yaml:"RetryTimeoutMillis"`
}

// ConnectionConfig represents credentials and dial settings shared by every
// physical connection the pool creates.
type ConnectionConfig struct {
	Principal         string `json:"Principal,omitempty" yaml:"Principal,omitempty"`
	Credentials       string `json:"Credentials,omitempty" yaml:"Credentials,omitempty"`
	Realm             string `json:"Realm,omitempty" yaml:"Realm,omitempty"`
	ConnectionTimeout uint32 `json:"ConnectionTimeout" yaml:"ConnectionTimeout"` // seconds
}

const (
	defaultMaxIdlePerAddress  = 10
	defaultRetryTimeoutMillis = 30000
	defaultConnectionTimeout  = 5 // seconds
)

// DefaultSeasoning provides a plaintext single-host configuration.
func DefaultSeasoning() *DriverSeasoning {
	return &DriverSeasoning{
		PoolConfig: &PoolConfig{
			ApplicationName:   "turbographdriver",
			MaxIdlePerAddress: defaultMaxIdlePerAddress,
		},
		SecurityConfig: &SecurityConfig{
			EncryptionLevel: EncryptionOptional,
			TrustStrategy:   TrustSystemCASignedCertificates,
		},
		RoutingConfig: &RoutingConfig{
			RetryTimeoutMillis: defaultRetryTimeoutMillis,
		},
		ConnectionConfig: &ConnectionConfig{
			ConnectionTimeout: defaultConnectionTimeout,
		},
	}
}

// fillDefaults backfills any nil section so callers can supply partial config.
func (s *DriverSeasoning) fillDefaults() {
	defaults := DefaultSeasoning()
	if s.PoolConfig == nil {
		s.PoolConfig = defaults.PoolConfig
	}
	if s.SecurityConfig == nil {
		s.SecurityConfig = defaults.SecurityConfig
	}
	if s.RoutingConfig == nil {
		s.RoutingConfig = defaults.RoutingConfig
	}
	if s.RoutingConfig.RetryTimeoutMillis == 0 {
		s.RoutingConfig.RetryTimeoutMillis = defaultRetryTimeoutMillis
	}
	if s.ConnectionConfig == nil {
		s.ConnectionConfig = defaults.ConnectionConfig
	}
	if s.ConnectionConfig.ConnectionTimeout == 0 {
		s.ConnectionConfig.ConnectionTimeout = defaultConnectionTimeout
	}
}
