package obfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T, mode Mode, key []byte) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	var aOpts, bOpts []Option
	if key != nil {
		sa, err := NewSealer(key)
		require.NoError(t, err)
		sb, err := NewSealer(key)
		require.NoError(t, err)
		aOpts = append(aOpts, WithSealer(sa))
		bOpts = append(bOpts, WithSealer(sb))
	}
	return NewConn(a, NewSession(mode, key), aOpts...), NewConn(b, NewSession(mode, key), bOpts...)
}

func TestConn_RoundTripAllModes(t *testing.T) {
	key := DeriveKey("correct horse", []byte("0123456789abcdef"))

	messages := [][]byte{
		[]byte("GET / HTTP/1.1\r\nHost: example.org\r\n\r\n"),
		bytes.Repeat([]byte{0x5A}, 3000),  // several DNS frames
		bytes.Repeat([]byte{0xC3}, 70000), // several TLS frames
		[]byte("z"),
	}

	for _, mode := range []Mode{ModeNone, ModeXor, ModeTLSMimic, ModeDNSMimic} {
		for _, sealed := range []bool{false, true} {
			name := mode.String()
			var k []byte
			if sealed {
				name += "/sealed"
				k = key
			}
			t.Run(name, func(t *testing.T) {
				client, server := pipePair(t, mode, k)

				errCh := make(chan error, 1)
				go func() {
					for _, m := range messages {
						if _, err := client.Write(m); err != nil {
							errCh <- err
							return
						}
					}
					errCh <- nil
				}()

				for _, m := range messages {
					got := make([]byte, len(m))
					require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
					_, err := io.ReadFull(server, got)
					require.NoError(t, err)
					assert.Equal(t, m, got)
				}
				require.NoError(t, <-errCh)
			})
		}
	}
}

func TestConn_BidirectionalCountersStayPaired(t *testing.T) {
	client, server := pipePair(t, ModeTLSMimic, nil)

	for i := 0; i < 5; i++ {
		go func() {
			_, _ = client.Write([]byte("ping"))
		}()
		buf := make([]byte, 4)
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)

		go func() {
			_, _ = server.Write([]byte("pong"))
		}()
		_, err = io.ReadFull(client, buf)
		require.NoError(t, err)
		assert.Equal(t, "pong", string(buf))
	}

	assert.Equal(t, uint16(5), client.Session().SendSeq())
	assert.Equal(t, uint16(5), client.Session().RecvSeq())
	assert.Equal(t, uint16(5), server.Session().SendSeq())
	assert.Equal(t, uint16(5), server.Session().RecvSeq())
}

func TestConn_XorFramesAreLengthPrefixed(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	conn := NewConn(a, NewSession(ModeXor, nil))

	go func() {
		_, _ = conn.Write([]byte("abc"))
	}()

	raw := make([]byte, 5)
	_, err := io.ReadFull(b, raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(raw[:2]))
	assert.Equal(t, xorTransform([]byte("abc"), 0), raw[2:])
}

func TestConn_EOFBetweenFrames(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(b, NewSession(ModeTLSMimic, nil))

	go func() {
		frame, _ := tlsWrap([]byte("last"), 0)
		_, _ = a.Write(frame)
		a.Close()
	}()

	buf := make([]byte, 4)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "last", string(buf))

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_EOFMidFrame(t *testing.T) {
	a, b := net.Pipe()
	conn := NewConn(b, NewSession(ModeTLSMimic, nil))

	go func() {
		_, _ = a.Write([]byte{0x17, 0x03, 0x03, 0x00, 0x10, 'x'})
		a.Close()
	}()

	_, err := conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConn_DNSRejectsUnterminatedName(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	conn := NewConn(b, NewSession(ModeDNSMimic, nil))

	go func() {
		_, _ = a.Write(make([]byte, dnsHeaderLen))
		_, _ = a.Write(bytes.Repeat([]byte{'a'}, maxDNSNameLen+10))
	}()

	_, err := conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestConn_SealedTamperingDetected(t *testing.T) {
	key := DeriveKey("k", []byte("salt"))
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	conn := NewConn(b, NewSession(ModeTLSMimic, key), WithSealer(sealer))

	go func() {
		sealed, _ := sealer.Seal([]byte("secret"))
		sealed[len(sealed)-1] ^= 0xFF
		frame, _ := tlsWrap(sealed, 0)
		_, _ = a.Write(frame)
	}()

	_, err = conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrUnsealFailed)
}
