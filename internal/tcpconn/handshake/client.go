package handshake

import (
	"fmt"
	"net"
	"time"

	tcperrors "github.com/alxayo/tcpconn/internal/errors"
	"github.com/alxayo/tcpconn/internal/logger"
)

const (
	clientReadTimeout  = 5 * time.Second
	clientWriteTimeout = 5 * time.Second
)

// Client performs the client side of the nonce handshake on conn. On
// success the connection is positioned immediately after reading the
// server's 8-byte confirmation, ready for framed message traffic.
func Client(conn net.Conn) error {
	if conn == nil {
		return tcperrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.Logger().With("phase", "handshake", "side", "client")

	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return err
	}
	var inBuf [NonceSize]byte
	if _, err := readFull(conn, inBuf[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("read nonce", clientReadTimeout, err)
		}
		return tcperrors.NewHandshakeError("read nonce", err)
	}
	nonceIn := decodeNonce(inBuf[:])
	nonceOut := transform(nonceIn)

	if err := setWriteDeadline(conn, clientWriteTimeout); err != nil {
		return err
	}
	outWire := encodeNonce(nonceOut)
	if err := writeFull(conn, outWire[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("write nonce echo", clientWriteTimeout, err)
		}
		return tcperrors.NewHandshakeError("write nonce echo", err)
	}

	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return err
	}
	var confirmBuf [NonceSize]byte
	if _, err := readFull(conn, confirmBuf[:]); err != nil {
		if isTimeoutErr(err) {
			return tcperrors.NewTimeoutError("read confirmation", clientReadTimeout, err)
		}
		return tcperrors.NewHandshakeError("read confirmation", err)
	}
	if decodeNonce(confirmBuf[:]) != nonceOut {
		log.Warn("handshake rejected by server")
		return tcperrors.NewHandshakeError("validate confirmation", errConfirmMismatch)
	}

	clearDeadlines(conn)
	log.Info("handshake completed")
	return nil
}
