package session

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flowline-labs/tsunamigo/internal/secure"
)

func pipeTransports(t *testing.T) (client, server *Transport, clientConn, serverConn net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return NewTransport(secure.Cleartext(c1)), NewTransport(secure.Cleartext(c2)), c1, c2
}

func TestHandshakeSuccess(t *testing.T) {
	client, server, _, _ := pipeTransports(t)
	secret := DefaultSecret[:]

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		clientErr = ClientHandshake(client, 1, secret)
	}()
	go func() {
		defer wg.Done()
		serverErr = ServerHandshake(server, 1, secret)
	}()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client handshake: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
}

func TestHandshakeRevisionMismatch(t *testing.T) {
	client, server, _, serverConn := pipeTransports(t)

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		clientErr = ClientHandshake(client, 1, DefaultSecret[:])
	}()
	go func() {
		defer wg.Done()
		serverErr = ServerHandshake(server, 2, DefaultSecret[:])
		// The server closes the connection on a revision mismatch, which is
		// what unblocks the client's pending read here.
		serverConn.Close()
	}()
	wg.Wait()

	if serverErr == nil {
		t.Fatal("expected server to reject mismatched protocol revision")
	}
	if clientErr == nil {
		t.Fatal("expected client handshake to fail when server closes on revision mismatch")
	}
}

func TestHandshakeSecretMismatch(t *testing.T) {
	client, server, _, _ := pipeTransports(t)

	clientSecret := append([]byte(nil), DefaultSecret[:]...)
	serverSecret := append([]byte(nil), DefaultSecret[:]...)
	serverSecret[0] ^= 0xff

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error

	go func() {
		defer wg.Done()
		clientErr = ClientHandshake(client, 1, clientSecret)
	}()
	go func() {
		defer wg.Done()
		serverErr = ServerHandshake(server, 1, serverSecret)
	}()
	wg.Wait()

	if serverErr == nil {
		t.Fatal("expected server to reject mismatched secret")
	}
	if clientErr == nil {
		t.Fatal("expected client to observe authentication failure")
	}
}

func TestAuthProofDeterministic(t *testing.T) {
	challenge := make([]byte, 64)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	a := authProof(challenge, DefaultSecret[:])
	b := authProof(challenge, DefaultSecret[:])
	if a != b {
		t.Fatal("authProof is not deterministic for identical inputs")
	}

	otherSecret := append([]byte(nil), DefaultSecret[:]...)
	otherSecret[0] ^= 1
	c := authProof(challenge, otherSecret)
	if a == c {
		t.Fatal("authProof did not change with a different secret")
	}
}

func TestLoadSecretFallsBackToDefault(t *testing.T) {
	got := LoadSecret("/nonexistent/path/to/secret")
	if len(got) != SecretSize {
		t.Fatalf("LoadSecret length = %d, want %d", len(got), SecretSize)
	}
	for i := range got {
		if got[i] != DefaultSecret[i] {
			t.Fatal("LoadSecret did not fall back to DefaultSecret for a missing file")
		}
	}
}

func TestLoadSecretFallsBackToDefaultForShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("too short"), 0o600); err != nil {
		t.Fatal(err)
	}
	got := LoadSecret(path)
	for i := range got {
		if got[i] != DefaultSecret[i] {
			t.Fatal("LoadSecret did not fall back to DefaultSecret for a file shorter than SecretSize")
		}
	}
}
