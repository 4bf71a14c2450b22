// Package tlsconf derives TLS credentials for the shared port from the
// link token.
//
// The server's private key is derived deterministically with HKDF, so every
// host sharing a token holds the same key pair. The certificate itself is
// generated fresh; clients verify the presented public key against the one
// derived from their own token instead of trusting a CA.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=token, salt="clipsync-tls-v1", info="private-key")
//	→ 64 bytes → reduced mod curve order → ECDSA P-256 key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

// DefaultPassphrase is used when no token is configured. It encrypts the
// link but authenticates nothing.
const DefaultPassphrase = "clipsync"

const serverName = "clipsync"

// ErrKeyMismatch is returned when the server's key was derived from a
// different token.
var ErrKeyMismatch = errors.New("tlsconf: server public key does not match token")

// Credentials holds the TLS material derived from one passphrase.
type Credentials struct {
	cert      tls.Certificate
	publicKey []byte
}

// Derive builds the credentials for passphrase. An empty passphrase uses
// DefaultPassphrase.
func Derive(passphrase string) (*Credentials, error) {
	if passphrase == "" {
		passphrase = DefaultPassphrase
	}
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	der, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}
	return &Credentials{
		cert:      tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		publicKey: pub,
	}, nil
}

// ServerConfig is used with tls.NewListener. ALPN offers h2 for gRPC and
// http/1.1 for the admin endpoints; peer links negotiate neither.
func (c *Credentials) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientConfig returns a config that accepts only servers holding the
// derived key.
func (c *Credentials) ClientConfig() *tls.Config {
	return &tls.Config{
		// Chain verification is replaced by the public key check below.
		InsecureSkipVerify:    true, //nolint:gosec
		ServerName:            serverName,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: c.verify,
	}
}

// GRPCCredentials returns client transport credentials for the health
// service on the shared port.
func (c *Credentials) GRPCCredentials() credentials.TransportCredentials {
	cfg := c.ClientConfig()
	cfg.NextProtos = []string{"h2"}
	return credentials.NewTLS(cfg)
}

func (c *Credentials) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("tlsconf: server presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tlsconf: parse server cert: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
	}
	if !bytes.Equal(pub, c.publicKey) {
		return ErrKeyMismatch
	}
	return nil
}

func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("clipsync-tls-v1"), []byte("private-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k ∈ [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
