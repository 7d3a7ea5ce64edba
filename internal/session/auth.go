package session

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// SecretSize is the required shared-secret length.
const SecretSize = 32

// DefaultSecret is the built-in key used when no secret file is configured
// or the configured file is shorter than SecretSize bytes. It has no
// security value beyond interoperating with a peer configured the same way.
var DefaultSecret = [SecretSize]byte{
	0x74, 0x73, 0x75, 0x6e, 0x61, 0x6d, 0x69, 0x67,
	0x6f, 0x2d, 0x64, 0x65, 0x66, 0x61, 0x75, 0x6c,
	0x74, 0x2d, 0x70, 0x72, 0x65, 0x2d, 0x73, 0x68,
	0x61, 0x72, 0x65, 0x64, 0x2d, 0x6b, 0x65, 0x79,
}

// LoadSecret reads the first SecretSize bytes of path. A missing file, a
// read error, or a file shorter than SecretSize bytes all fall back to
// DefaultSecret rather than failing the request.
func LoadSecret(path string) []byte {
	if path == "" {
		return append([]byte(nil), DefaultSecret[:]...)
	}
	f, err := os.Open(path)
	if err != nil {
		return append([]byte(nil), DefaultSecret[:]...)
	}
	defer f.Close()
	buf := make([]byte, SecretSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return append([]byte(nil), DefaultSecret[:]...)
	}
	return buf
}

// authProof computes MD5(challenge XOR repeat(secret)), the proof exchanged
// in AuthenticationResponse.
func authProof(challenge []byte, secret []byte) [16]byte {
	xored := make([]byte, len(challenge))
	for i := range xored {
		xored[i] = challenge[i] ^ secret[i%len(secret)]
	}
	return md5.Sum(xored)
}

// ClientHandshake runs the control-channel handshake from the client's
// perspective: announce the protocol revision, then answer the
// authentication challenge.
func ClientHandshake(t *Transport, revision uint32, secret []byte) error {
	if err := t.Send(wire.ProtocolRevision{Revision: revision}); err != nil {
		return err
	}
	msg, err := t.RecvServerToClient()
	if err != nil {
		return err
	}
	challenge, ok := msg.(wire.AuthenticationChallenge)
	if !ok {
		return errs.New(errs.Protocol, fmt.Sprintf("expected AuthenticationChallenge, got %T", msg))
	}
	proof := authProof(challenge.Challenge[:], secret)
	if err := t.Send(wire.AuthenticationResponse{Proof: proof}); err != nil {
		return err
	}
	msg, err = t.RecvServerToClient()
	if err != nil {
		return err
	}
	status, ok := msg.(wire.AuthenticationStatus)
	if !ok {
		return errs.New(errs.Protocol, fmt.Sprintf("expected AuthenticationStatus, got %T", msg))
	}
	if !status.OK {
		return errs.New(errs.Auth, "server rejected authentication proof")
	}
	return nil
}

// ServerHandshake runs the control-channel handshake from the server's
// perspective. It closes out the authentication exchange (sending AuthenticationStatus
// either way) before returning, so the caller always knows the connection's
// final disposition from the returned error alone.
func ServerHandshake(t *Transport, expectedRevision uint32, secret []byte) error {
	msg, err := t.RecvClientToServer()
	if err != nil {
		return err
	}
	rev, ok := msg.(wire.ProtocolRevision)
	if !ok {
		return errs.New(errs.Protocol, fmt.Sprintf("expected ProtocolRevision, got %T", msg))
	}
	if rev.Revision != expectedRevision {
		return errs.New(errs.Protocol, fmt.Sprintf("protocol revision mismatch: client %d, server %d", rev.Revision, expectedRevision))
	}

	var challenge [64]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return errs.Wrap(errs.Auth, "generate challenge", err)
	}
	if err := t.Send(wire.AuthenticationChallenge{Challenge: challenge}); err != nil {
		return err
	}

	msg, err = t.RecvClientToServer()
	if err != nil {
		return err
	}
	resp, ok := msg.(wire.AuthenticationResponse)
	if !ok {
		return errs.New(errs.Protocol, fmt.Sprintf("expected AuthenticationResponse, got %T", msg))
	}

	want := authProof(challenge[:], secret)
	ok2 := subtle.ConstantTimeCompare(want[:], resp.Proof[:]) == 1
	if sendErr := t.Send(wire.AuthenticationStatus{OK: ok2}); sendErr != nil {
		return sendErr
	}
	if !ok2 {
		return errs.New(errs.Auth, "client authentication proof mismatch")
	}
	return nil
}
