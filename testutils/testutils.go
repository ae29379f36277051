package testutils

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

// TestTimeout is the default timeout for operations in tests.
const TestTimeout = 5 * time.Second

// TestInterval is the default interval for polling in tests.
const TestInterval = 100 * time.Millisecond

// MockEchoServer is a simple TCP server that echoes back any data it receives.
type MockEchoServer struct {
	listener net.Listener
	addr     string
}

// NewMockEchoServer creates and starts a new MockEchoServer.
func NewMockEchoServer() *MockEchoServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	s := &MockEchoServer{
		listener: listener,
		addr:     listener.Addr().String(),
	}
	go s.run()
	return s
}

func (s *MockEchoServer) run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Listener was closed
		}
		go func(c net.Conn) {
			defer c.Close()
			_, _ = io.Copy(c, c)
		}(conn)
	}
}

// Addr returns the address of the server.
func (s *MockEchoServer) Addr() string {
	return s.addr
}

// Close stops the server.
func (s *MockEchoServer) Close() {
	s.listener.Close()
}

// MockTLSEchoServer is a simple TLS server that echoes back any data it receives.
type MockTLSEchoServer struct {
	listener net.Listener
	addr     string
	cert     tls.Certificate
}

// NewMockTLSEchoServer creates and starts a new MockTLSEchoServer.
func NewMockTLSEchoServer() *MockTLSEchoServer {
	cert, err := generateTestCert()
	if err != nil {
		panic(err)
	}

	config := &tls.Config{Certificates: []tls.Certificate{cert}}
	listener, err := tls.Listen("tcp", "127.0.0.1:0", config)
	if err != nil {
		panic(err)
	}

	s := &MockTLSEchoServer{
		listener: listener,
		addr:     listener.Addr().String(),
		cert:     cert,
	}
	go s.run()
	return s
}

func (s *MockTLSEchoServer) run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Listener was closed
		}
		go func(c net.Conn) {
			defer c.Close()
			_, _ = io.Copy(c, c)
		}(conn)
	}
}

// Addr returns the address of the server.
func (s *MockTLSEchoServer) Addr() string {
	return s.addr
}

// Close stops the server.
func (s *MockTLSEchoServer) Close() {
	s.listener.Close()
}

// RootCAs returns a pool that trusts the server's self-signed certificate.
func (s *MockTLSEchoServer) RootCAs() *x509.CertPool {
	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(s.cert.Certificate[0])
	if err != nil {
		panic(err)
	}
	pool.AddCert(leaf)
	return pool
}

// generateTestCert creates a self-signed certificate for testing.
func generateTestCert() (tls.Certificate, error) {
	certPem, keyPem, err := GenerateTestCertPEM()
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPem, keyPem)
}

// GenerateTestCertPEM creates a self-signed certificate for 127.0.0.1 and
// returns it and its key PEM encoded.
func GenerateTestCertPEM() ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Acme Co"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPem := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return certPem, keyPem, nil
}

// WriteTestCert writes a fresh self-signed pair into a temp dir and returns
// the cert and key paths.
func WriteTestCert(t *testing.T) (string, string) {
	t.Helper()
	certPem, keyPem, err := GenerateTestCertPEM()
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPem, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPem, 0o600))
	return certFile, keyFile
}

// MockUDPServer answers every datagram with a fixed reply. A nil reply makes
// it read and drop everything, which is how a filtered port looks to a prober.
type MockUDPServer struct {
	conn  net.PacketConn
	reply []byte
}

// NewMockPongServer answers "pong" to anything.
func NewMockPongServer() *MockUDPServer {
	return NewMockUDPServer([]byte("pong"))
}

// NewMockUDPServer creates and starts a new MockUDPServer.
func NewMockUDPServer(reply []byte) *MockUDPServer {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	s := &MockUDPServer{conn: conn, reply: reply}
	go s.run()
	return s
}

func (s *MockUDPServer) run() {
	buf := make([]byte, 2048)
	for {
		_, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return // Listener was closed
		}
		if s.reply != nil {
			_, _ = s.conn.WriteTo(s.reply, from)
		}
	}
}

// Port returns the bound UDP port.
func (s *MockUDPServer) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the server.
func (s *MockUDPServer) Close() {
	s.conn.Close()
}

// CheckSOCKS5Proxy attempts to connect to a target address through a SOCKS5
// proxy and expects an echo. auth may be nil.
func CheckSOCKS5Proxy(proxyAddr, targetAddr string, auth *proxy.Auth) error {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Simple check: send data and expect it to be echoed back.
	payload := "hello"
	_, err = conn.Write([]byte(payload))
	if err != nil {
		return err
	}

	response := make([]byte, len(payload))
	_, err = io.ReadFull(conn, response)
	if err != nil {
		return fmt.Errorf("failed to read echo response: %w", err)
	}

	if string(response) != payload {
		return fmt.Errorf("unexpected response: got %q, want %q", string(response), payload)
	}

	return nil
}

// AssertConnectedToProxy is a helper for integration tests.
func AssertConnectedToProxy(t *testing.T, proxyAddr, targetAddr string, auth *proxy.Auth) {
	t.Helper()
	err := CheckSOCKS5Proxy(proxyAddr, targetAddr, auth)
	require.NoError(t, err, "Failed to connect to target through SOCKS5 proxy")
}
