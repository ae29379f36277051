package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/core/obfs"
	"github.com/sourceshift/veiltun/core/transport"
	"github.com/sourceshift/veiltun/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyDocumentGetsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultSocksListen, cfg.Socks.Listen)
	assert.Equal(t, DefaultRelayPort, cfg.Server.RelayPort)
	assert.Equal(t, "tls", cfg.Obfuscation.Mode)
	assert.Equal(t, transport.KindTCP, cfg.Tunnel.Transport)
	assert.Equal(t, 5*time.Second, cfg.Watchdog.Interval)
	assert.True(t, cfg.Watchdog.WatchdogEnabled())
	assert.True(t, cfg.Relay.RespondersEnabled())

	candidates, err := cfg.NegotiationCandidates()
	require.NoError(t, err)
	assert.Equal(t, negotiate.DefaultCandidates(), candidates)
}

func TestParse_FullDocument(t *testing.T) {
	doc := `
server:
  host: relay.example.net
  relay_port: 443
protocol: shadowsocks
candidates:
  - protocol: wireguard
    port: 51820
    timeout: 1500ms
  - protocol: shadowsocks
    port: 8388
    retries: 2
probe:
  rate_limit: 10
obfuscation:
  mode: dns
  passphrase: hunter2
  salt: 0123456789abcdef
socks:
  listen: 127.0.0.1:9050
  username: alice
  password: secret
tunnel:
  transport: tcp
  retries: 2
  tls:
    client_hello_id: HelloFirefox_Auto
    min_version: "1.3"
watchdog:
  enabled: false
  interval: 2s
logging:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "relay.example.net:443", cfg.RelayAddress())
	assert.False(t, cfg.Watchdog.WatchdogEnabled())
	assert.Equal(t, 2*time.Second, cfg.Watchdog.Interval)

	candidates, err := cfg.NegotiationCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, negotiate.Shadowsocks, candidates[0].Protocol)
	assert.Equal(t, negotiate.DefaultProbeTimeout, candidates[0].Timeout)
	assert.Equal(t, 2, candidates[0].Retries)

	o, err := cfg.ObfuscationSettings()
	require.NoError(t, err)
	assert.Equal(t, obfs.ModeDNSMimic, o.Mode)
	assert.Equal(t, obfs.DeriveKey("hunter2", []byte("0123456789abcdef")), o.Key)

	creds := cfg.Credentials()
	require.NotNil(t, creds)
	assert.True(t, creds.Valid("alice", "secret"))
	assert.False(t, creds.Valid("alice", "wrong"))

	opts, err := cfg.TransportOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)
	assert.Equal(t, "HelloFirefox_Auto", opts.TLS.ClientHelloID)
	assert.Equal(t, 2, opts.Retries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{name: "UnknownKey", yaml: "sokcs: {}", errorMsg: "field sokcs not found"},
		{name: "BadRelayPort", yaml: "server: {relay_port: 70000}", errorMsg: "server.relay_port 70000 is out of range"},
		{name: "UnknownProtocol", yaml: "protocol: ipsec", errorMsg: `unknown protocol "ipsec"`},
		{name: "PinnedProtocolMissing", yaml: "protocol: openvpn\ncandidates: [{protocol: wireguard, port: 51820}]", errorMsg: "matches no candidate"},
		{name: "CandidateBadPort", yaml: "candidates: [{protocol: wireguard, port: 0}]", errorMsg: "invalid port: 0"},
		{name: "CandidateTooManyRetries", yaml: "candidates: [{protocol: wireguard, port: 1, retries: 4}]", errorMsg: "retries must be between 0 and 3"},
		{name: "BadMode", yaml: "obfuscation: {mode: https}", errorMsg: "obfuscation.mode"},
		{name: "ShortSalt", yaml: "obfuscation: {mode: xor, passphrase: p, salt: abc}", errorMsg: "obfuscation.salt must be at least 8 bytes"},
		{name: "BadSocksListen", yaml: "socks: {listen: localhost}", errorMsg: "socks.listen"},
		{name: "HalfCredentials", yaml: "socks: {username: bob}", errorMsg: "must be set together"},
		{name: "BadTransport", yaml: "tunnel: {transport: sctp}", errorMsg: "tunnel.transport has an invalid value: sctp"},
		{name: "MissingHelloID", yaml: "tunnel: {tls: {min_version: '1.2'}}", errorMsg: "tunnel.tls.client_hello_id must be specified"},
		{name: "UnknownHelloID", yaml: "tunnel: {tls: {client_hello_id: chrome}}", errorMsg: "invalid tunnel.tls.client_hello_id 'chrome'"},
		{name: "BadTLSVersion", yaml: "tunnel: {tls: {client_hello_id: HelloChrome_Auto, max_version: '1.1'}}", errorMsg: "invalid TLS MaxVersion '1.1'"},
		{name: "NegativeInterval", yaml: "watchdog: {interval: -1s}", errorMsg: "watchdog.interval must be positive"},
		{name: "CertWithoutKey", yaml: "relay: {cert_file: /tmp/c.pem}", errorMsg: "relay.cert_file and relay.key_file"},
		{name: "BadLogFormat", yaml: "logging: {format: xml}", errorMsg: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veiltun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {host: 203.0.113.7}\n"), 0o600))

	cfg, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", cfg.Server.Host)

	_, err = LoadFileConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFileConfig_ShippedExample(t *testing.T) {
	cfg, err := LoadFileConfig(filepath.Join("..", "..", "config", "veiltun.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Server.Host)
}

func TestTransportOptions_CAFile(t *testing.T) {
	certFile, _ := testutils.WriteTestCert(t)
	cfg, err := Parse([]byte("tunnel: {tls: {client_hello_id: HelloChrome_Auto, ca_file: " + certFile + "}}"))
	require.NoError(t, err)

	opts, err := cfg.TransportOptions()
	require.NoError(t, err)
	assert.NotNil(t, opts.TLS.RootCAs)

	cfg.Tunnel.TLS.CAFile = filepath.Join(t.TempDir(), "none.pem")
	_, err = cfg.TransportOptions()
	assert.Error(t, err)
}

func TestServerTransportOptions(t *testing.T) {
	cfg, err := Parse([]byte("relay: {transport: quic, cert_file: c.pem, key_file: k.pem, alpn: [veil]}"))
	require.NoError(t, err)

	opts := cfg.ServerTransportOptions()
	assert.Equal(t, transport.ServerOptions{Kind: "quic", CertFile: "c.pem", KeyFile: "k.pem", NextProtos: []string{"veil"}}, opts)
	assert.Nil(t, cfg.Credentials())
}
