package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	tcperrors "github.com/alxayo/tcpconn/internal/errors"
	"github.com/alxayo/tcpconn/internal/logger"
)

const (
	serverReadTimeout  = 5 * time.Second
	serverWriteTimeout = 5 * time.Second
)

// Server performs the server side of the nonce handshake on conn. It is a
// blocking call; on success the connection is positioned immediately after
// the confirmation write, ready for framed message traffic. On failure it
// returns a *errors.HandshakeError or *errors.TimeoutError.
func Server(conn net.Conn) error {
	if conn == nil {
		return tcperrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "server")

	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return tcperrors.NewHandshakeError("draw nonce", err)
	}
	nonceOut := binary.LittleEndian.Uint64(raw[:])
	nonceExpected := transform(nonceOut)

	if err := setWriteDeadline(conn, serverWriteTimeout); err != nil {
		return err
	}
	outWire := encodeNonce(nonceOut)
	if err := writeFull(conn, outWire[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("write nonce", serverWriteTimeout, err)
		}
		return tcperrors.NewHandshakeError("write nonce", err)
	}

	if err := setReadDeadline(conn, serverReadTimeout); err != nil {
		return err
	}
	var echoBuf [NonceSize]byte
	if _, err := readFull(conn, echoBuf[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("read nonce echo", serverReadTimeout, err)
		}
		return tcperrors.NewHandshakeError("read nonce echo", err)
	}
	echo := decodeNonce(echoBuf[:])
	if echo != nonceExpected {
		log.Warn("handshake rejected", "reason", "nonce mismatch")
		return tcperrors.NewHandshakeError("validate nonce echo", errNonceMismatch)
	}

	if err := setWriteDeadline(conn, serverWriteTimeout); err != nil {
		return err
	}
	confirmWire := encodeNonce(nonceExpected)
	if err := writeFull(conn, confirmWire[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("write confirmation", serverWriteTimeout, err)
		}
		return tcperrors.NewHandshakeError("write confirmation", err)
	}

	clearDeadlines(conn)
	log.Info("handshake completed")
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	off := 0
	for off < len(buf) {
		n, err := conn.Read(buf[off:])
		off += n
		if err != nil {
			return off, err
		}
	}
	return off, nil
}
