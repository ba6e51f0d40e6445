package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePEMPair(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadTLSConfigPEM(t *testing.T) {
	certPath, keyPath := writePEMPair(t)
	tc, err := loadTLSConfig(Config{TLSCertFile: certPath, TLSKeyFile: keyPath})
	require.NoError(t, err)
	assert.Len(t, tc.Certificates, 1)
}

func TestLoadTLSConfigBadIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.p12")
	require.NoError(t, os.WriteFile(path, []byte("not pkcs12"), 0o600))
	_, err := loadTLSConfig(Config{IdentityFile: path})
	assert.ErrorContains(t, err, "could not decode identity file")

	_, err = loadTLSConfig(Config{IdentityFile: filepath.Join(t.TempDir(), "missing.p12")})
	assert.ErrorContains(t, err, "could not read identity file")
}
