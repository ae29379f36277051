// Package relay carries SOCKS targets across an obfuscated tunnel. The client
// opens one transport connection per target; the server terminates it, dials
// the target and copies bytes both ways.
package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sourceshift/veiltun/core/obfs"
)

const (
	statusOK     byte = 0x00
	statusFailed byte = 0x01

	// maxTargetLen covers a 255 byte name, the colon and a port.
	maxTargetLen = 255 + 1 + 5
)

var (
	ErrTargetRejected = errors.New("relay: target rejected by server")
	ErrBadHeader      = errors.New("relay: malformed target header")
)

// Obfuscation describes how tunnel connections are framed. A nil Key leaves
// payloads unsealed.
type Obfuscation struct {
	Mode obfs.Mode
	Key  []byte
}

// Wrap gives c a fresh session, and a sealer when a key is set.
func (o Obfuscation) Wrap(c net.Conn) (*obfs.Conn, error) {
	var opts []obfs.Option
	if o.Key != nil {
		sealer, err := obfs.NewSealer(o.Key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, obfs.WithSealer(sealer))
	}
	return obfs.NewConn(c, obfs.NewSession(o.Mode, o.Key), opts...), nil
}

// writeTarget sends the "host:port" header in a single write so it lands in
// one frame.
func writeTarget(w io.Writer, target string) error {
	if target == "" || len(target) > maxTargetLen {
		return fmt.Errorf("%w: target length %d", ErrBadHeader, len(target))
	}
	buf := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(target)), uint16(len(target)))
	_, err := w.Write(append(buf, target...))
	return err
}

func readTarget(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 || n > maxTargetLen {
		return "", fmt.Errorf("%w: target length %d", ErrBadHeader, n)
	}
	target := make([]byte, n)
	if _, err := io.ReadFull(r, target); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if _, _, err := net.SplitHostPort(string(target)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return string(target), nil
}
