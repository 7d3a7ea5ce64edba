// Package session implements the control-channel handshake: protocol
// revision gating, challenge-response authentication, and UDP endpoint
// discovery. It sits on top of internal/secure for framing and
// internal/wire for message encoding.
package session

import (
	"bytes"

	"github.com/flowline-labs/tsunamigo/internal/secure"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Transport sends and receives whole wire.Message values over a secure.Channel,
// transparently framing/encrypting when the channel is secure and falling
// back to the codec's own self-delimiting stream format otherwise.
type Transport struct {
	ch *secure.Channel
}

// NewTransport wraps an already-established channel (cleartext or secured).
func NewTransport(ch *secure.Channel) *Transport {
	return &Transport{ch: ch}
}

// Send encodes and transmits m, addressed in either direction; the wire
// codec's discriminant ranges are disjoint so a decode against the wrong
// direction fails loudly rather than silently aliasing.
func (t *Transport) Send(m wire.Message) error {
	encoded, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if t.ch.Secure() {
		return t.ch.SendFrame(encoded)
	}
	_, err = t.ch.Conn().Write(encoded)
	return err
}

// RecvClientToServer reads and decodes one ClientToServer message.
func (t *Transport) RecvClientToServer() (wire.Message, error) {
	if t.ch.Secure() {
		frame, err := t.ch.RecvFrame()
		if err != nil {
			return nil, err
		}
		return wire.DecodeClientToServer(bytes.NewReader(frame))
	}
	return wire.DecodeClientToServer(t.ch.Conn())
}

// RecvServerToClient reads and decodes one ServerToClient message.
func (t *Transport) RecvServerToClient() (wire.Message, error) {
	if t.ch.Secure() {
		frame, err := t.ch.RecvFrame()
		if err != nil {
			return nil, err
		}
		return wire.DecodeServerToClient(bytes.NewReader(frame))
	}
	return wire.DecodeServerToClient(t.ch.Conn())
}

// Secure reports whether the underlying channel is Noise-encrypted.
func (t *Transport) Secure() bool { return t.ch.Secure() }

// SendTransmissionControl writes a fixed-8-byte TransmissionControl value,
// the receiver-to-sender signal family that is its own wire format rather
// than a ClientToServer/ServerToClient variant.
func (t *Transport) SendTransmissionControl(tc wire.TransmissionControl) error {
	encoded := wire.EncodeTransmissionControl(tc)
	if t.ch.Secure() {
		return t.ch.SendFrame(encoded[:])
	}
	_, err := t.ch.Conn().Write(encoded[:])
	return err
}

// RecvTransmissionControl reads one fixed-8-byte TransmissionControl value.
func (t *Transport) RecvTransmissionControl() (wire.TransmissionControl, error) {
	if t.ch.Secure() {
		frame, err := t.ch.RecvFrame()
		if err != nil {
			return wire.TransmissionControl{}, err
		}
		return wire.DecodeTransmissionControl(bytes.NewReader(frame))
	}
	return wire.DecodeTransmissionControl(t.ch.Conn())
}
