// Package wire implements the fixed big-endian codec for tsunamigo's control
// channel: the ClientToServer/ServerToClient message sum types and the
// fixed-8-byte TransmissionControl family. All multi-byte integers are
// big-endian; strings are length-prefixed (uint32 length, then bytes).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flowline-labs/tsunamigo/internal/errs"
)

// ErrDecode is the sentinel wrapped by errs.Decode errors raised on unknown
// discriminants. Truncated input is not wrapped: it surfaces as the
// io.EOF or io.ErrUnexpectedEOF returned by the read helpers below.
var ErrDecode = fmt.Errorf("wire: malformed control message")

func decodeErr(format string, args ...any) error {
	return errs.Wrap(errs.Decode, fmt.Sprintf(format, args...), ErrDecode)
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeBool(w io.Writer, v bool) error {
	if v {
		_, err := w.Write([]byte{1})
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// maxStringLen guards against a truncated/corrupt length prefix turning into
// an enormous allocation.
const maxStringLen = 1 << 20

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", decodeErr("string length %d exceeds maximum %d", n, maxStringLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode renders m into a freshly allocated buffer, discriminant first.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeUint32(&buf, m.discriminant()); err != nil {
		return nil, err
	}
	if err := m.encodeBody(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Message is implemented by every ClientToServer/ServerToClient variant.
type Message interface {
	discriminant() uint32
	encodeBody(w io.Writer) error
}
