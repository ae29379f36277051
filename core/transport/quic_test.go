package transport

import (
	"context"
	"testing"

	utls "github.com/refraction-networking/utls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQUICTransport(t *testing.T) {
	tr, err := NewQUICTransport(&QUICConfig{
		TLSConfig: &utls.Config{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultALPN}, tr.tlsConfig.NextProtos)
	assert.NoError(t, tr.Close())
}

func TestNewQUICTransport_KeepsALPN(t *testing.T) {
	cfg := &utls.Config{NextProtos: []string{"veil"}}
	tr, err := NewQUICTransport(&QUICConfig{TLSConfig: cfg})
	require.NoError(t, err)
	assert.Equal(t, []string{"veil"}, tr.tlsConfig.NextProtos)
	assert.NotSame(t, cfg, tr.tlsConfig)
}

func TestNewQUICTransport_RequiresTLS(t *testing.T) {
	_, err := NewQUICTransport(&QUICConfig{})
	assert.Error(t, err)
}

func TestQUICTransport_ListenWithoutCertificate(t *testing.T) {
	tr, err := NewQUICTransport(&QUICConfig{TLSConfig: &utls.Config{}})
	require.NoError(t, err)

	_, err = tr.Listen(context.Background(), "udp", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificate")
}

func TestQUICTransport_ListenCancelledContext(t *testing.T) {
	tr, err := NewQUICTransport(&QUICConfig{TLSConfig: &utls.Config{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Listen(ctx, "udp", "127.0.0.1:0")
	assert.ErrorIs(t, err, context.Canceled)
}
