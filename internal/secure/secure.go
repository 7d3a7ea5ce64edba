// Package secure implements the optional encrypted control channel: a
// Noise_XXpsk3_25519_ChaChaPoly_BLAKE2s transport mixing a pre-shared key at
// message 3. When disabled, Channel is a thin pass-through to the
// underlying connection with no framing, matching the wire codec's own
// self-delimiting encode/decode.
package secure

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/flowline-labs/tsunamigo/internal/errs"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// presharedKeyPlacement mixes the PSK into message 3 of the XX pattern,
// giving Noise_XXpsk3.
const presharedKeyPlacement = 3

// maxFrameSize bounds both the plaintext scratch buffer and a single
// ciphertext frame, matching the protocol's 65,535-byte scratch buffers.
const maxFrameSize = 65535

// headerSize is the cleartext {length uint16, nonce uint64} frame header
// preceding every ciphertext on a secured channel.
const headerSize = 2 + 8

// tagSize is the ChaChaPoly authentication tag appended to every ciphertext.
const tagSize = 16

// Channel carries whole encoded wire messages, one per SendFrame/RecvFrame
// call, optionally Noise-encrypted. It is not safe for concurrent use by
// more than one writer or more than one reader; callers serialize each
// direction themselves.
type Channel struct {
	conn   io.ReadWriter
	enc    *noise.CipherState
	dec    *noise.CipherState
	secure bool

	nonceOut uint64
	nonceIn  uint64

	writeScratch [maxFrameSize]byte
	readScratch  [maxFrameSize]byte
	plainScratch [maxFrameSize]byte
}

// Cleartext wraps conn with no encryption.
func Cleartext(conn io.ReadWriter) *Channel {
	return &Channel{conn: conn}
}

// PSKSize is the required pre-shared key length.
const PSKSize = 32

// HandshakeClient runs the initiator side of the handshake over conn.
func HandshakeClient(conn io.ReadWriter, psk []byte) (*Channel, error) {
	return handshake(conn, psk, true)
}

// HandshakeServer runs the responder side of the handshake over conn.
func HandshakeServer(conn io.ReadWriter, psk []byte) (*Channel, error) {
	return handshake(conn, psk, false)
}

func handshake(conn io.ReadWriter, psk []byte, initiator bool) (*Channel, error) {
	if len(psk) != PSKSize {
		return nil, errs.New(errs.Config, fmt.Sprintf("pre-shared key must be %d bytes, got %d", PSKSize, len(psk)))
	}
	staticKeypair, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Auth, "generate static keypair", err)
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:           cipherSuite,
		Pattern:               noise.HandshakeXX,
		Initiator:             initiator,
		StaticKeypair:         staticKeypair,
		PresharedKey:          psk,
		PresharedKeyPlacement: presharedKeyPlacement,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Auth, "init handshake state", err)
	}

	var enc, dec *noise.CipherState
	if initiator {
		msg1, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, errs.Wrap(errs.Auth, "build message 1", err)
		}
		if err := writeRaw(conn, msg1); err != nil {
			return nil, errs.Wrap(errs.Network, "send message 1", err)
		}

		msg2, err := readRaw(conn)
		if err != nil {
			return nil, errs.Wrap(errs.Network, "receive message 2", err)
		}
		if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
			return nil, errs.Wrap(errs.Auth, "process message 2", err)
		}

		msg3, cs1, cs2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, errs.Wrap(errs.Auth, "build message 3", err)
		}
		if err := writeRaw(conn, msg3); err != nil {
			return nil, errs.Wrap(errs.Network, "send message 3", err)
		}
		enc, dec = cs1, cs2 // initiator encrypts with cs1, decrypts with cs2
	} else {
		msg1, err := readRaw(conn)
		if err != nil {
			return nil, errs.Wrap(errs.Network, "receive message 1", err)
		}
		if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
			return nil, errs.Wrap(errs.Auth, "process message 1", err)
		}

		msg2, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, errs.Wrap(errs.Auth, "build message 2", err)
		}
		if err := writeRaw(conn, msg2); err != nil {
			return nil, errs.Wrap(errs.Network, "send message 2", err)
		}

		msg3, err := readRaw(conn)
		if err != nil {
			return nil, errs.Wrap(errs.Network, "receive message 3", err)
		}
		_, cs1, cs2, err := hs.ReadMessage(nil, msg3)
		if err != nil {
			return nil, errs.Wrap(errs.Auth, "process message 3", err)
		}
		enc, dec = cs2, cs1 // responder encrypts with cs2, decrypts with cs1
	}

	return &Channel{conn: conn, enc: enc, dec: dec, secure: true}, nil
}

// writeRaw/readRaw carry the handshake's own three messages, which are not
// yet framed by the post-handshake {length, nonce} header: each handshake
// message is itself length-prefixed with a uint16 so the peer knows how much
// to read.
func writeRaw(conn io.ReadWriter, msg []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(msg)
	return err
}

func readRaw(conn io.ReadWriter) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendFrame writes one whole encoded wire message. In secure mode it is
// encrypted as a single Noise transport message and framed with a cleartext
// {length, nonce} header; in cleartext mode it is written verbatim.
func (c *Channel) SendFrame(payload []byte) error {
	if len(payload) > maxFrameSize-tagSize {
		return errs.New(errs.Protocol, fmt.Sprintf("frame of %d bytes exceeds maximum %d", len(payload), maxFrameSize-tagSize))
	}
	if !c.secure {
		_, err := c.conn.Write(payload)
		if err != nil {
			return errs.Wrap(errs.Network, "write cleartext frame", err)
		}
		return nil
	}

	if c.nonceOut == ^uint64(0) {
		return errs.New(errs.Overflow, "outbound nonce exhausted")
	}
	ciphertext, err := c.enc.Encrypt(c.writeScratch[:0], nil, payload)
	if err != nil {
		return errs.Wrap(errs.Auth, "encrypt frame", err)
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(len(ciphertext)))
	binary.BigEndian.PutUint64(header[2:10], c.nonceOut)
	if _, err := c.conn.Write(header[:]); err != nil {
		return errs.Wrap(errs.Network, "write frame header", err)
	}
	if _, err := c.conn.Write(ciphertext); err != nil {
		return errs.Wrap(errs.Network, "write frame ciphertext", err)
	}
	c.nonceOut++
	return nil
}

// RecvFrame reads and, in secure mode, decrypts one whole encoded wire
// message. The returned slice aliases the Channel's internal scratch buffer
// and is only valid until the next RecvFrame call.
func (c *Channel) RecvFrame() ([]byte, error) {
	if !c.secure {
		return nil, errs.New(errs.Protocol, "RecvFrame requires a framed (secure) channel; read wire messages directly in cleartext mode")
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, errs.Wrap(errs.Network, "read frame header", err)
	}
	length := binary.BigEndian.Uint16(header[0:2])
	nonce := binary.BigEndian.Uint64(header[2:10])
	if nonce != c.nonceIn {
		return nil, errs.New(errs.Auth, fmt.Sprintf("nonce mismatch: expected %d, got %d", c.nonceIn, nonce))
	}
	if int(length) > maxFrameSize {
		return nil, errs.New(errs.Protocol, fmt.Sprintf("frame of %d bytes exceeds maximum %d", length, maxFrameSize))
	}
	ciphertext := c.readScratch[:length]
	if _, err := io.ReadFull(c.conn, ciphertext); err != nil {
		return nil, errs.Wrap(errs.Network, "read frame ciphertext", err)
	}
	plaintext, err := c.dec.Decrypt(c.plainScratch[:0], nil, ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.Auth, "decrypt frame", err)
	}
	if c.nonceIn == ^uint64(0) {
		return nil, errs.New(errs.Overflow, "inbound nonce exhausted")
	}
	c.nonceIn++
	return plaintext, nil
}

// Secure reports whether the channel is Noise-encrypted.
func (c *Channel) Secure() bool { return c.secure }

// Conn returns the underlying cleartext connection, valid in cleartext mode
// only, for callers that decode wire messages directly off the stream.
func (c *Channel) Conn() io.ReadWriter { return c.conn }
