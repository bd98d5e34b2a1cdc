// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package vnc

import (
	"bytes"
	"crypto/aes"
	"crypto/des"
	"crypto/md5"
	"math/big"
	"strings"
	"testing"
)

// fakeConn separates the bytes a test feeds in (as if sent by the remote
// peer) from the bytes the code under test writes out, so reads and writes
// against the same negotiation never alias the same buffer.
type fakeConn struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func newFakeConn(in []byte) *fakeConn {
	return &fakeConn{in: bytes.NewBuffer(in), out: &bytes.Buffer{}}
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.out.Write(p) }

func TestNegotiateVersion(t *testing.T) {
	cases := []struct {
		banner    string
		wantMinor int
	}{
		{"RFB 003.008\n", 8},
		{"RFB 003.007\n", 7},
		{"RFB 003.003\n", 3},
		{"RFB 003.889\n", 8}, // clamp to the highest version we speak
	}

	for _, c := range cases {
		conn := newFakeConn([]byte(c.banner))
		major, minor, err := negotiateVersion(conn)
		if err != nil {
			t.Fatalf("%q: %v", c.banner, err)
		}
		if major != 3 || minor != c.wantMinor {
			t.Errorf("%q: got %d.%d, want 3.%d", c.banner, major, minor, c.wantMinor)
		}
		want := "RFB 003.00" + string(rune('0'+c.wantMinor)) + "\n"
		if conn.out.String() != want {
			t.Errorf("%q: reply = %q, want %q", c.banner, conn.out.String(), want)
		}
	}
}

func TestNegotiateVersionRejectsGarbage(t *testing.T) {
	conn := newFakeConn([]byte("not a banner\n"))
	if _, _, err := negotiateVersion(conn); err == nil {
		t.Error("expected an UnsupportedVersionError")
	}
}

func TestNegotiateSecurityNoneModern(t *testing.T) {
	var in bytes.Buffer
	in.WriteByte(1)             // one security type offered
	in.WriteByte(secTypeNone)   // ... and it's None
	writeU32(&in, 0)            // SecurityResult = OK

	conn := newFakeConn(in.Bytes())
	decide := func(methods []AuthMethod) (AuthChoice, bool) {
		if len(methods) != 1 || methods[0] != AuthNone {
			t.Fatalf("offered methods = %v, want [AuthNone]", methods)
		}
		return AuthChoice{Method: AuthNone}, true
	}

	if err := negotiateSecurity(conn, 8, decide); err != nil {
		t.Fatal(err)
	}
	if conn.out.Bytes()[0] != secTypeNone {
		t.Errorf("chosen type = %d, want %d", conn.out.Bytes()[0], secTypeNone)
	}
}

func TestNegotiateSecurityLegacy(t *testing.T) {
	var in bytes.Buffer
	writeU32(&in, uint32(secTypeNone)) // 3.3-and-earlier: server dictates a single type, no result phase

	conn := newFakeConn(in.Bytes())
	decide := func(methods []AuthMethod) (AuthChoice, bool) {
		return AuthChoice{Method: AuthNone}, true
	}
	if err := negotiateSecurity(conn, 3, decide); err != nil {
		t.Fatal(err)
	}
	if conn.out.Len() != 0 {
		t.Errorf("legacy negotiation should not write anything for None, got %d bytes", conn.out.Len())
	}
}

func TestNegotiateSecurityDeclined(t *testing.T) {
	var in bytes.Buffer
	in.WriteByte(1)
	in.WriteByte(secTypeVNCAuth)

	conn := newFakeConn(in.Bytes())
	decide := func(methods []AuthMethod) (AuthChoice, bool) { return AuthChoice{}, false }
	if err := negotiateSecurity(conn, 8, decide); err != ErrAuthenticationUnavailable {
		t.Errorf("err = %v, want ErrAuthenticationUnavailable", err)
	}
}

func TestNegotiateSecurityFailureReason(t *testing.T) {
	var in bytes.Buffer
	in.WriteByte(1)
	in.WriteByte(secTypeNone)
	writeU32(&in, 1) // SecurityResult = failed
	writeString(&in, "nope")

	conn := newFakeConn(in.Bytes())
	decide := func(methods []AuthMethod) (AuthChoice, bool) { return AuthChoice{Method: AuthNone}, true }
	err := negotiateSecurity(conn, 8, decide)
	authErr, ok := err.(*AuthenticationFailureError)
	if !ok {
		t.Fatalf("err = %#v, want *AuthenticationFailureError", err)
	}
	if authErr.Reason != "nope" {
		t.Errorf("reason = %q, want %q", authErr.Reason, "nope")
	}
}

// TestPerformVNCAuth checks the RFB-specific bit-reversal-of-the-key-bytes
// quirk by independently computing the expected DES ciphertext the way a
// real server would verify it.
func TestPerformVNCAuth(t *testing.T) {
	var password [8]byte
	copy(password[:], "secret")

	challenge := bytes.Repeat([]byte{0x11}, 16)
	conn := newFakeConn(challenge)

	if err := performVNCAuth(conn, password); err != nil {
		t.Fatal(err)
	}

	var key [8]byte
	for i, b := range password {
		key[i] = reverseBits(b)
	}
	block, err := des.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 16)
	block.Encrypt(want[0:8], challenge[0:8])
	block.Encrypt(want[8:16], challenge[8:16])

	if !bytes.Equal(conn.out.Bytes(), want) {
		t.Errorf("response = %x, want %x", conn.out.Bytes(), want)
	}
}

func TestReverseBits(t *testing.T) {
	cases := []struct{ in, want byte }{
		{0b00000001, 0b10000000},
		{0b10000000, 0b00000001},
		{0b11001010, 0b01010011},
		{0x00, 0x00},
		{0xff, 0xff},
	}
	for _, c := range cases {
		if got := reverseBits(c.in); got != c.want {
			t.Errorf("reverseBits(%08b) = %08b, want %08b", c.in, got, c.want)
		}
	}
}

// TestPerformAppleRemoteDesktopAuth drives a tiny (non-secure, but
// arithmetically real) Diffie-Hellman exchange and checks the client
// recovers the same shared secret the "server" side would, then decrypts
// the credential block to confirm the username/password round-trip.
func TestPerformAppleRemoteDesktopAuth(t *testing.T) {
	const keyLen = 1
	const generator = 5
	const prime = 227 // small prime so the modexp is trivial to reason about
	const serverPrivate = 7

	g := big.NewInt(generator)
	p := big.NewInt(prime)
	serverPublic := new(big.Int).Exp(g, big.NewInt(serverPrivate), p)

	var in bytes.Buffer
	writeU16(&in, generator)
	writeU16(&in, keyLen)
	in.Write(fixedWidthBytes(p, keyLen))
	in.Write(fixedWidthBytes(serverPublic, keyLen))

	conn := newFakeConn(in.Bytes())
	if err := performAppleRemoteDesktopAuth(conn, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}

	out := conn.out.Bytes()
	if len(out) != 128+keyLen {
		t.Fatalf("wrote %d bytes, want %d", len(out), 128+keyLen)
	}
	ciphertext := out[:128]
	clientPublic := new(big.Int).SetBytes(out[128:])

	shared := new(big.Int).Exp(clientPublic, big.NewInt(serverPrivate), p)
	sum := md5.Sum(fixedWidthBytes(shared, keyLen))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		t.Fatal(err)
	}

	creds := make([]byte, 128)
	for off := 0; off < len(creds); off += aes.BlockSize {
		block.Decrypt(creds[off:off+aes.BlockSize], ciphertext[off:off+aes.BlockSize])
	}
	username := strings.TrimRight(string(creds[0:64]), "\x00")
	password := strings.TrimRight(string(creds[64:128]), "\x00")
	if username != "alice" || password != "hunter2" {
		t.Errorf("recovered username=%q password=%q", username, password)
	}
}

func TestFixedWidthBytes(t *testing.T) {
	cases := []struct {
		n     int64
		width int
		want  []byte
	}{
		{0, 1, []byte{0}},
		{1, 2, []byte{0, 1}},
		{256, 2, []byte{1, 0}},
		{256, 1, []byte{0}}, // truncates to the low-order bytes, matching a fixed wire width
	}
	for _, c := range cases {
		got := fixedWidthBytes(big.NewInt(c.n), c.width)
		if !bytes.Equal(got, c.want) {
			t.Errorf("fixedWidthBytes(%d, %d) = %x, want %x", c.n, c.width, got, c.want)
		}
	}
}
