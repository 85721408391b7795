package xorstream

import (
	"io"
	"net"
	"testing"
)

func TestHandshakeAndRoundTrip(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	errCh := make(chan error, 1)
	var serverConn *Conn
	go func() {
		var err error
		serverConn, err = ServerHandshake(serverRaw)
		errCh <- err
	}()

	clientConn, err := ClientHandshake(clientRaw)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}

	want := []byte("eth_submitWork payload\n")
	writeErr := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(want)
		writeErr <- err
	}()

	got := make([]byte, len(want))
	if _, err := io.ReadFull(serverConn, got); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("client write: %v", err)
	}

	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}
