// Package handshake implements the nonce-exchange integrity check that
// precedes framed-mode connection use: it proves both ends are speaking
// the same protocol, not that either end is authenticated. Raw-mode
// connections skip this entirely (section 4.3).
//
// Wire sequence (all values 8 bytes, little-endian):
//
//	server draws nonce_out, computes nonce_expected = transform(nonce_out), writes nonce_out
//	client reads nonce_in, computes nonce_out = transform(nonce_in), writes nonce_out back
//	server reads the echo; if it matches nonce_expected, writes nonce_expected back as
//	confirmation — a mismatch closes the socket with no confirmation write at all
//	client reads the confirmation and compares it against the value it just sent
//
// transform is a fixed XOR with a magic constant — cheap, deterministic,
// and its own inverse (transform(transform(x)) == x), which keeps both
// sides' logic identical.
package handshake

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	tcperrors "github.com/alxayo/tcpconn/internal/errors"
)

// magic is XORed against the nonce to derive the expected reply.
const magic uint64 = 0x4B554C657576656E

// NonceSize is the wire width of a nonce or confirmation value.
const NonceSize = 8

// transform is its own inverse: transform(transform(x)) == x.
func transform(x uint64) uint64 { return x ^ magic }

func encodeNonce(v uint64) [NonceSize]byte {
	var b [NonceSize]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b
}

func decodeNonce(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func setReadDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return tcperrors.NewHandshakeError("set read deadline", err)
	}
	return nil
}

func setWriteDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return tcperrors.NewHandshakeError("set write deadline", err)
	}
	return nil
}

func clearDeadlines(c net.Conn) {
	_ = c.SetReadDeadline(time.Time{})
	_ = c.SetWriteDeadline(time.Time{})
}

func writeFull(w interface{ Write([]byte) (int, error) }, b []byte) error {
	off := 0
	for off < len(b) {
		n, err := w.Write(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type to interface{ Timeout() bool }
	if ne, ok := err.(to); ok && ne.Timeout() {
		return true
	}
	return false
}

var errNonceMismatch = fmt.Errorf("nonce echo did not match expected value")
var errConfirmMismatch = fmt.Errorf("server confirmation did not match the nonce sent")
