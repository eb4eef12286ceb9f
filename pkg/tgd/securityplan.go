package tgd

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SecurityPlan is the transport security decision for one driver lifetime.
// It is resolved once at construction and never changes.
type SecurityPlan struct {
	requiresEncryption bool
	strategy           TrustStrategy
	rootCAs            *x509.CertPool
	skipVerify         bool
	pinner             *fingerprintPinner
}

// InsecurePlan yields plaintext connections.
func InsecurePlan() *SecurityPlan {
	return &SecurityPlan{}
}

// NewSecurityPlan turns a trust configuration into a concrete encryption
// decision. Deprecated strategies are accepted with a warning and mapped
// onto their replacement semantics; an unrecognized strategy is fatal.
func NewSecurityPlan(config *SecurityConfig, logger zerolog.Logger) (*SecurityPlan, error) {
	if config == nil || config.EncryptionLevel != EncryptionRequired {
		return InsecurePlan(), nil
	}

	switch config.TrustStrategy {
	case TrustOnFirstUse:
		logger.Warn().
			Str("strategy", string(TrustOnFirstUse)).
			Msg("trust strategy has been deprecated and will be removed in a future version of the driver")
		return forTrustOnFirstUse(config.KnownHostsFile)

	case TrustSignedCertificates:
		logger.Warn().
			Str("strategy", string(TrustSignedCertificates)).
			Msg("trust strategy has been deprecated and will be removed in a future version of the driver")
		return forCustomCASignedCertificates(config.CertFile)

	case TrustCustomCASignedCertificates:
		return forCustomCASignedCertificates(config.CertFile)

	case TrustSystemCASignedCertificates:
		return &SecurityPlan{requiresEncryption: true, strategy: TrustSystemCASignedCertificates}, nil

	case TrustAllCertificates:
		return &SecurityPlan{requiresEncryption: true, strategy: TrustAllCertificates, skipVerify: true}, nil

	default:
		return nil, NewConfigurationError("unknown TLS authentication strategy: %s", config.TrustStrategy)
	}
}

// RequiresEncryption reports whether connections must be wrapped in TLS.
func (sp *SecurityPlan) RequiresEncryption() bool {
	return sp.requiresEncryption
}

// Strategy returns the trust strategy the plan resolved to.
func (sp *SecurityPlan) Strategy() TrustStrategy {
	return sp.strategy
}

// TLSConfigFor materializes the tls.Config used to dial address.
func (sp *SecurityPlan) TLSConfigFor(address ServerAddress) *tls.Config {
	cfg := &tls.Config{
		ServerName: address.Host,
		RootCAs:    sp.rootCAs,
	}

	if sp.skipVerify {
		cfg.InsecureSkipVerify = true
	}

	if sp.pinner != nil {
		// Chain verification is replaced by fingerprint pinning per address.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = sp.pinner.verifier(address)
	}

	return cfg
}

func forCustomCASignedCertificates(certFile string) (*SecurityPlan, error) {
	pool := x509.NewCertPool()

	ca, err := os.ReadFile(certFile)
	if err != nil {
		return nil, WrapConfigurationError(err, "unable to establish SSL parameters")
	}

	if !pool.AppendCertsFromPEM(ca) {
		return nil, NewConfigurationError("unable to establish SSL parameters: no certificates found in %s", certFile)
	}

	return &SecurityPlan{
		requiresEncryption: true,
		strategy:           TrustCustomCASignedCertificates,
		rootCAs:            pool,
	}, nil
}

func forTrustOnFirstUse(knownHostsFile string) (*SecurityPlan, error) {
	pinner, err := newFingerprintPinner(knownHostsFile)
	if err != nil {
		return nil, WrapConfigurationError(err, "unable to establish SSL parameters")
	}

	return &SecurityPlan{
		requiresEncryption: true,
		strategy:           TrustOnFirstUse,
		pinner:             pinner,
	}, nil
}

// fingerprintPinner stores one leaf-certificate fingerprint per address and
// rejects any later mismatch. Fingerprints persist in a known-hosts file.
type fingerprintPinner struct {
	path  string
	lock  sync.Mutex
	known map[string]string // address -> hex sha256 fingerprint
}

func newFingerprintPinner(path string) (*fingerprintPinner, error) {
	pinner := &fingerprintPinner{path: path, known: make(map[string]string)}
	if path == "" {
		return pinner, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pinner, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 {
			pinner.known[fields[0]] = fields[1]
		}
	}

	return pinner, scanner.Err()
}

func (fp *fingerprintPinner) verifier(address ServerAddress) func([][]byte, [][]*x509.Certificate) error {
	key := address.String()

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: server presented no certificate", ErrConnectionBroken)
		}

		digest := sha256.Sum256(rawCerts[0])
		fingerprint := hex.EncodeToString(digest[:])

		fp.lock.Lock()
		defer fp.lock.Unlock()

		pinned, seen := fp.known[key]
		if !seen {
			fp.known[key] = fingerprint
			return fp.persist(key, fingerprint)
		}
		if pinned != fingerprint {
			return fmt.Errorf("unable to connect to %s, because the certificate the server uses has changed: expected fingerprint %s, got %s", key, pinned, fingerprint)
		}

		return nil
	}
}

func (fp *fingerprintPinner) persist(key, fingerprint string) error {
	if fp.path == "" {
		return nil
	}

	file, err := os.OpenFile(fp.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "%s %s\n", key, fingerprint)
	return err
}
