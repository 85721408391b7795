// Package xorstream implements the "encrypted" listener variant from
// spec.md §4.5/§6: a cleartext key exchange followed by XOR-keystream
// obfuscation of the connection. This is explicitly NOT real cryptography —
// spec.md names it an obfuscation layer, not a confidentiality guarantee —
// so it is built on stdlib crypto/rand for key material only, with no
// third-party crypto dependency to justify pulling in; golang.org/x/crypto is
// already used elsewhere (internal/listener's PKCS#12 loading) for the one
// place this proxy does real TLS.
package xorstream

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// KeySize is the exchanged keystream seed length in bytes.
const KeySize = 32

// Conn wraps a net.Conn, XOR-ing every byte through a deterministic keystream
// derived from the exchanged key. Read and Write each keep their own cursor
// since the two directions are independently-offset streams.
type Conn struct {
	net.Conn
	key       [KeySize]byte
	readCtr   uint64
	writeCtr  uint64
}

// ServerHandshake reads a client-generated key from conn and returns a Conn
// that will XOR all further I/O against it. This is a key exchange, not a key
// agreement protocol — the key is sent in the clear, matching the "not real
// crypto" framing in spec.md's REDESIGN FLAGS discussion of this variant.
func ServerHandshake(conn net.Conn) (*Conn, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(conn, key[:]); err != nil {
		return nil, fmt.Errorf("xorstream: handshake read: %w", err)
	}
	return &Conn{Conn: conn, key: key}, nil
}

// ClientHandshake generates a random key, sends it to conn, and returns a Conn
// keyed the same way. Used if this proxy ever needs to dial out over the
// encrypted variant (not currently exercised, since upstream pools speak
// plain or TLS Stratum, but kept symmetric with ServerHandshake for testing).
func ClientHandshake(conn net.Conn) (*Conn, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("xorstream: key generation: %w", err)
	}
	if _, err := conn.Write(key[:]); err != nil {
		return nil, fmt.Errorf("xorstream: handshake write: %w", err)
	}
	return &Conn{Conn: conn, key: key}, nil
}

func (c *Conn) keystreamByte(counter uint64) byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], counter)
	idx := counter % KeySize
	return c.key[idx] ^ buf[counter%8]
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	for i := 0; i < n; i++ {
		p[i] ^= c.keystreamByte(c.readCtr)
		c.readCtr++
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ c.keystreamByte(c.writeCtr)
		c.writeCtr++
	}
	return c.Conn.Write(out)
}
