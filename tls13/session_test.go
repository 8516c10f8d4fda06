package tls13

import (
	"bytes"
	"testing"
	"time"
)

func TestTicketManagerMintSealOpenRoundTrip(t *testing.T) {
	t.Parallel()
	tm, err := newTicketManager()
	if err != nil {
		t.Fatalf("newTicketManager: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	rms := bytes.Repeat([]byte{0x11}, 32)
	nst, err := tm.mint(TLS_AES_128_GCM_SHA256, rms, 16*1024, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if nst.LifetimeSeconds != uint32(defaultTicketLifetime/time.Second) {
		t.Errorf("LifetimeSeconds = %d, want %d", nst.LifetimeSeconds, uint32(defaultTicketLifetime/time.Second))
	}
	if nst.MaxEarlyDataSize != 16*1024 {
		t.Errorf("MaxEarlyDataSize = %d, want %d", nst.MaxEarlyDataSize, 16*1024)
	}

	contents, err := tm.open(nst.Ticket, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if contents.CipherSuite != TLS_AES_128_GCM_SHA256 {
		t.Errorf("CipherSuite = %#04x, want %#04x", contents.CipherSuite, TLS_AES_128_GCM_SHA256)
	}
	if contents.AgeAdd != nst.AgeAdd {
		t.Errorf("AgeAdd = %d, want %d", contents.AgeAdd, nst.AgeAdd)
	}
	if !bytes.Equal(contents.Nonce, nst.Nonce) {
		t.Errorf("Nonce mismatch")
	}
	if contents.MaxEarlyDataSize != 16*1024 {
		t.Errorf("MaxEarlyDataSize = %d, want %d", contents.MaxEarlyDataSize, 16*1024)
	}

	suite, err := cipherSuiteByID(TLS_AES_128_GCM_SHA256)
	if err != nil {
		t.Fatalf("cipherSuiteByID: %v", err)
	}
	wantPSK, err := resumptionPSK(suite, rms, nst.Nonce)
	if err != nil {
		t.Fatalf("resumptionPSK: %v", err)
	}
	if !bytes.Equal(contents.ResumptionMasterSecret, wantPSK) {
		t.Fatalf("ticket did not carry the nonce-expanded PSK, not the raw resumption_master_secret")
	}
}

func TestTicketManagerOpenRejectsReplay(t *testing.T) {
	t.Parallel()
	tm, err := newTicketManager()
	if err != nil {
		t.Fatalf("newTicketManager: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	nst, err := tm.mint(TLS_AES_128_GCM_SHA256, bytes.Repeat([]byte{0x22}, 32), 0, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := tm.open(nst.Ticket, now); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := tm.open(nst.Ticket, now); err == nil {
		t.Fatalf("second open of the same ticket must fail (replay)")
	}
}

func TestTicketManagerOpenRejectsExpiredTicket(t *testing.T) {
	t.Parallel()
	tm, err := newTicketManager()
	if err != nil {
		t.Fatalf("newTicketManager: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	nst, err := tm.mint(TLS_AES_128_GCM_SHA256, bytes.Repeat([]byte{0x33}, 32), 0, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := tm.open(nst.Ticket, now.Add(maxTicketLifetime+time.Second)); err == nil {
		t.Fatalf("expected ticket past maxTicketLifetime to be rejected")
	}
}

func TestTicketManagerOpenRejectsTamperedTicket(t *testing.T) {
	t.Parallel()
	tm, err := newTicketManager()
	if err != nil {
		t.Fatalf("newTicketManager: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	nst, err := tm.mint(TLS_AES_128_GCM_SHA256, bytes.Repeat([]byte{0x44}, 32), 0, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	tampered := append([]byte(nil), nst.Ticket...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := tm.open(tampered, now); err == nil {
		t.Fatalf("expected tampered ticket to fail AEAD authentication")
	}
}

func TestTicketManagerOpenRejectsTruncatedTicket(t *testing.T) {
	t.Parallel()
	tm, err := newTicketManager()
	if err != nil {
		t.Fatalf("newTicketManager: %v", err)
	}
	if _, err := tm.open([]byte{0x01, 0x02}, time.Unix(0, 0)); err == nil {
		t.Fatalf("expected a too-short ticket to be rejected")
	}
}

func TestClientTicketObfuscatedTicketAge(t *testing.T) {
	t.Parallel()
	received := time.Unix(1_700_000_000, 0)
	ct := &clientTicket{AgeAdd: 1000, ReceivedAt: received}

	age := ct.obfuscatedTicketAge(received.Add(250 * time.Millisecond))
	if age != 250+1000 {
		t.Fatalf("obfuscatedTicketAge = %d, want %d", age, 250+1000)
	}
}

func TestClientTicketCachePutGetRemove(t *testing.T) {
	t.Parallel()
	cache := newClientTicketCache()

	aes128 := &clientTicket{ServerName: "example.com", CipherSuite: TLS_AES_128_GCM_SHA256, Ticket: []byte("t1")}
	chacha := &clientTicket{ServerName: "example.com", CipherSuite: TLS_CHACHA20_POLY1305_SHA256, Ticket: []byte("t2")}
	cache.put(aes128)
	cache.put(chacha)

	if _, ok := cache.get("other.com", []CipherSuite{TLS_AES_128_GCM_SHA256}); ok {
		t.Fatalf("must not find a ticket for an unrelated server name")
	}

	got, ok := cache.get("example.com", []CipherSuite{TLS_AES_256_GCM_SHA384, TLS_AES_128_GCM_SHA256})
	if !ok {
		t.Fatalf("expected to find a cached ticket")
	}
	if !bytes.Equal(got.Ticket, aes128.Ticket) {
		t.Fatalf("got ticket %q, want %q", got.Ticket, aes128.Ticket)
	}

	got, ok = cache.get("example.com", []CipherSuite{TLS_CHACHA20_POLY1305_SHA256})
	if !ok || !bytes.Equal(got.Ticket, chacha.Ticket) {
		t.Fatalf("expected to find the chacha ticket by its own suite")
	}

	cache.remove(aes128)
	if _, ok := cache.get("example.com", []CipherSuite{TLS_AES_128_GCM_SHA256}); ok {
		t.Fatalf("removed ticket must no longer be found")
	}
	if _, ok := cache.get("example.com", []CipherSuite{TLS_CHACHA20_POLY1305_SHA256}); !ok {
		t.Fatalf("removing one suite's ticket must not remove another's")
	}
}

func TestClientTicketCachePutOverwritesSameKey(t *testing.T) {
	t.Parallel()
	cache := newClientTicketCache()
	first := &clientTicket{ServerName: "example.com", CipherSuite: TLS_AES_128_GCM_SHA256, Ticket: []byte("first")}
	second := &clientTicket{ServerName: "example.com", CipherSuite: TLS_AES_128_GCM_SHA256, Ticket: []byte("second")}
	cache.put(first)
	cache.put(second)

	got, ok := cache.get("example.com", []CipherSuite{TLS_AES_128_GCM_SHA256})
	if !ok {
		t.Fatalf("expected a cached ticket")
	}
	if !bytes.Equal(got.Ticket, second.Ticket) {
		t.Fatalf("newer ticket for the same (server, suite) key must replace the older one")
	}
}

func TestTicketContentsMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()
	contents := &ticketContents{
		CipherSuite:            TLS_CHACHA20_POLY1305_SHA256,
		IssuedAtUnix:           1_700_000_000,
		AgeAdd:                 0xdeadbeef,
		Nonce:                  []byte{0x01, 0x02, 0x03},
		ResumptionMasterSecret: bytes.Repeat([]byte{0x99}, 32),
		MaxEarlyDataSize:       16384,
	}

	got, err := unmarshalTicketContents(contents.marshal())
	if err != nil {
		t.Fatalf("unmarshalTicketContents: %v", err)
	}
	if got.CipherSuite != contents.CipherSuite ||
		got.IssuedAtUnix != contents.IssuedAtUnix ||
		got.AgeAdd != contents.AgeAdd ||
		got.MaxEarlyDataSize != contents.MaxEarlyDataSize {
		t.Fatalf("scalar field mismatch: got %+v, want %+v", got, contents)
	}
	if !bytes.Equal(got.Nonce, contents.Nonce) {
		t.Fatalf("Nonce mismatch")
	}
	if !bytes.Equal(got.ResumptionMasterSecret, contents.ResumptionMasterSecret) {
		t.Fatalf("ResumptionMasterSecret mismatch")
	}
}

func TestUnmarshalTicketContentsRejectsTrailingBytes(t *testing.T) {
	t.Parallel()
	contents := &ticketContents{Nonce: []byte{0x01}, ResumptionMasterSecret: []byte{0x02}}
	raw := append(contents.marshal(), 0xff)
	if _, err := unmarshalTicketContents(raw); err == nil {
		t.Fatalf("expected trailing bytes to be rejected")
	}
}
