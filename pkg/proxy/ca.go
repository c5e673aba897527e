package proxy

import (
	"container/list"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultCAOrganization is the organization name for generated certificates.
	DefaultCAOrganization = "mockproxy Local CA"
	// DefaultCAValidity is the validity period of a generated CA certificate.
	DefaultCAValidity = 10 * 365 * 24 * time.Hour
	// DefaultLeafValidity is the validity period of signed host certificates.
	DefaultLeafValidity = 365 * 24 * time.Hour
	// DefaultCertCacheSize is the default maximum number of host certificates to cache.
	DefaultCertCacheSize = 1000

	// CACertFile and CAKeyFile are the file names used inside a CA directory.
	CACertFile = "ca.crt"
	CAKeyFile  = "ca.key"
)

// ErrNoCA is returned when signing is attempted before the CA was loaded or generated.
var ErrNoCA = errors.New("CA not loaded")

// CAManager handles CA certificate generation and per-host certificate signing.
type CAManager struct {
	mu sync.RWMutex

	caCert   *x509.Certificate
	caKey    crypto.Signer
	certPath string
	keyPath  string
	cache    *certCache
}

// CAManagerOption is a functional option for configuring CAManager.
type CAManagerOption func(*CAManager)

// WithCertCacheSize sets the maximum number of host certificates to cache.
func WithCertCacheSize(size int) CAManagerOption {
	return func(m *CAManager) {
		m.cache = newCertCache(size)
	}
}

// NewCAManager creates a new CA manager with the given paths.
func NewCAManager(certPath, keyPath string, opts ...CAManagerOption) *CAManager {
	m := &CAManager{
		certPath: certPath,
		keyPath:  keyPath,
		cache:    newCertCache(DefaultCertCacheSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewCAManagerInDir creates a CA manager using CACertFile and CAKeyFile inside dir.
func NewCAManagerInDir(dir string, opts ...CAManagerOption) *CAManager {
	return NewCAManager(filepath.Join(dir, CACertFile), filepath.Join(dir, CAKeyFile), opts...)
}

// CertPath returns the path to the CA certificate file.
func (m *CAManager) CertPath() string {
	return m.certPath
}

// KeyPath returns the path to the CA private key file.
func (m *CAManager) KeyPath() string {
	return m.keyPath
}

// Exists checks if the CA certificate and key exist on disk.
func (m *CAManager) Exists() bool {
	_, certErr := os.Stat(m.certPath)
	_, keyErr := os.Stat(m.keyPath)
	return certErr == nil && keyErr == nil
}

// Generate creates a new self-signed CA certificate and private key and writes
// both to disk.
func (m *CAManager) Generate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{DefaultCAOrganization},
			CommonName:   DefaultCAOrganization,
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(DefaultCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.certPath), 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.keyPath), 0o700); err != nil {
		return err
	}
	if err := writePEM(m.certPath, "CERTIFICATE", certDER, 0o644); err != nil {
		return err
	}
	if err := writePEM(m.keyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return err
	}

	m.caCert = cert
	m.caKey = key
	m.cache.reset()
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load reads the CA certificate and key from disk. PKCS#8, SEC 1 EC and
// PKCS#1 RSA keys are accepted.
func (m *CAManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	certPEM, err := os.ReadFile(m.certPath)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%s: no PEM certificate", m.certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("%s: %w", m.certPath, err)
	}
	if !cert.IsCA {
		return fmt.Errorf("%s: certificate is not a CA", m.certPath)
	}

	keyPEM, err := os.ReadFile(m.keyPath)
	if err != nil {
		return err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("%s: no PEM private key", m.keyPath)
	}
	key, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("%s: %w", m.keyPath, err)
	}

	m.caCert = cert
	m.caKey = key
	m.cache.reset()
	return nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, errors.New("unsupported private key type")
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unrecognized private key encoding")
}

// EnsureCA loads existing CA or generates a new one.
func (m *CAManager) EnsureCA() error {
	if m.Exists() {
		return m.Load()
	}
	return m.Generate()
}

// Certificate returns a certificate for host signed by the CA. Results are
// cached per host.
func (m *CAManager) Certificate(host string) (*tls.Certificate, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if cert, ok := m.cache.get(host); ok {
		return cert, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cert, ok := m.cache.get(host); ok {
		return cert, nil
	}
	if m.caCert == nil || m.caKey == nil {
		return nil, ErrNoCA
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(DefaultLeafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}
	if template.NotAfter.After(m.caCert.NotAfter) {
		template.NotAfter = m.caCert.NotAfter
	}

	der, err := x509.CreateCertificate(rand.Reader, template, m.caCert, &key.PublicKey, m.caKey)
	if err != nil {
		return nil, fmt.Errorf("signing certificate for %s: %w", host, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{der, m.caCert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	m.cache.set(host, cert)
	return cert, nil
}

// CACertificate returns the parsed CA certificate, or nil before Load or Generate.
func (m *CAManager) CACertificate() *x509.Certificate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caCert
}

// CACertPEM returns the CA certificate in PEM format.
func (m *CAManager) CACertPEM() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.caCert == nil {
		return nil, ErrNoCA
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.caCert.Raw}), nil
}

// Fingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon-separated upper-case hex.
func (m *CAManager) Fingerprint() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.caCert == nil {
		return "", ErrNoCA
	}
	sum := sha256.Sum256(m.caCert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":"), nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

// certCache is a size-bounded LRU of host certificates.
type certCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type certEntry struct {
	host string
	cert *tls.Certificate
}

func newCertCache(maxSize int) *certCache {
	if maxSize <= 0 {
		maxSize = DefaultCertCacheSize
	}
	return &certCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *certCache) get(host string) (*tls.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[host]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*certEntry)
	if time.Now().After(entry.cert.Leaf.NotAfter) {
		c.order.Remove(el)
		delete(c.entries, host)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.cert, true
}

func (c *certCache) set(host string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[host]; ok {
		el.Value.(*certEntry).cert = cert
		c.order.MoveToFront(el)
		return
	}
	c.entries[host] = c.order.PushFront(&certEntry{host: host, cert: cert})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*certEntry).host)
	}
}

func (c *certCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *certCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.entries)
}
