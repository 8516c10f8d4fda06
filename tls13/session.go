package tls13

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// defaultTicketLifetime is the NewSessionTicket lifetime this module
// issues, well under RFC 8446 §4.6.1's mandatory seven-day ceiling.
const defaultTicketLifetime = 2 * time.Hour

const maxTicketLifetime = 7 * 24 * time.Hour

// ticketContents is everything a resumption ticket must carry to let a
// later ClientHello be accepted statelessly: the PSK material,
// the cipher suite it was bound to, and enough bookkeeping to compute
// obfuscated_ticket_age (RFC 8446 §4.2.11.1). Grounded on
// hxzhao527-stls/stls/state_tls13.go's sendSessionTickets2/
// checkForResumption2, generalized from that file's TLS-1.2-adjacent
// session-ID cache to a full RFC 8446 §4.6.1 sealed-ticket scheme per
// SPEC_FULL.md's Open Question decision.
type ticketContents struct {
	CipherSuite             CipherSuite
	IssuedAtUnix            int64
	AgeAdd                  uint32
	Nonce                   []byte
	ResumptionMasterSecret  []byte
	MaxEarlyDataSize        uint32
}

func (t *ticketContents) marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(t.CipherSuite))
	b.AddUint64(uint64(t.IssuedAtUnix))
	b.AddUint32(t.AgeAdd)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(t.Nonce) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(t.ResumptionMasterSecret) })
	b.AddUint32(t.MaxEarlyDataSize)
	out, _ := b.Bytes() // fixed-shape builder; cannot fail
	return out
}

func unmarshalTicketContents(data []byte) (*ticketContents, error) {
	s := cryptobyte.String(data)
	t := &ticketContents{}
	var suite uint16
	if !s.ReadUint16(&suite) {
		return nil, fmt.Errorf("tls13: malformed ticket contents")
	}
	t.CipherSuite = CipherSuite(suite)
	var issuedAt uint64
	if !s.ReadUint64(&issuedAt) || !s.ReadUint32(&t.AgeAdd) {
		return nil, fmt.Errorf("tls13: malformed ticket contents")
	}
	t.IssuedAtUnix = int64(issuedAt)
	if !readUint8Vector(&s, &t.Nonce) {
		return nil, fmt.Errorf("tls13: malformed ticket contents")
	}
	if !readUint16Vector(&s, &t.ResumptionMasterSecret) {
		return nil, fmt.Errorf("tls13: malformed ticket contents")
	}
	if !s.ReadUint32(&t.MaxEarlyDataSize) || !s.Empty() {
		return nil, fmt.Errorf("tls13: malformed ticket contents")
	}
	return t, nil
}

// ticketManager mints and opens opaque, server-sealed tickets and tracks
// which ones have already been redeemed, giving the server the single-use
// anti-replay property RFC 8446 §8.1 recommends for 0-RTT-capable
// tickets without requiring persistent per-client state.
type ticketManager struct {
	aead cipher.AEAD

	mu       sync.Mutex
	redeemed map[string]time.Time
}

func newTicketManager() (*ticketManager, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("tls13: generating ticket key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ticketManager{aead: aead, redeemed: make(map[string]time.Time)}, nil
}

// mint builds and seals a NewSessionTicket for the just-completed
// handshake's resumption_master_secret.
func (tm *ticketManager) mint(suite CipherSuite, resumptionMasterSecret []byte, maxEarlyDataSize uint32, now time.Time) (*NewSessionTicketMsg, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	var ageAdd uint32
	ageAddBytes := make([]byte, 4)
	if _, err := rand.Read(ageAddBytes); err != nil {
		return nil, err
	}
	ageAdd = binary.BigEndian.Uint32(ageAddBytes)

	params, err := cipherSuiteByID(suite)
	if err != nil {
		return nil, err
	}
	psk, err := resumptionPSK(params, resumptionMasterSecret, nonce)
	if err != nil {
		return nil, err
	}

	contents := &ticketContents{
		CipherSuite:            suite,
		IssuedAtUnix:           now.Unix(),
		AgeAdd:                 ageAdd,
		Nonce:                  nonce,
		ResumptionMasterSecret: psk,
		MaxEarlyDataSize:       maxEarlyDataSize,
	}
	sealed, err := tm.seal(contents.marshal())
	if err != nil {
		return nil, err
	}

	return &NewSessionTicketMsg{
		LifetimeSeconds:  uint32(defaultTicketLifetime / time.Second),
		AgeAdd:           ageAdd,
		Nonce:            nonce,
		Ticket:           sealed,
		MaxEarlyDataSize: maxEarlyDataSize,
	}, nil
}

func (tm *ticketManager) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, tm.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := tm.aead.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// open unseals and validates a ticket, enforcing lifetime and single-use
// redemption. Returns the resumption PSK (not the raw resumption_master_secret;
// the nonce-expansion in mint already happened) ready for PSK binder checks.
func (tm *ticketManager) open(ticket []byte, now time.Time) (*ticketContents, error) {
	if len(ticket) < tm.aead.NonceSize() {
		return nil, fmt.Errorf("tls13: ticket too short")
	}
	nonce, ciphertext := ticket[:tm.aead.NonceSize()], ticket[tm.aead.NonceSize():]
	plaintext, err := tm.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("tls13: ticket authentication failed: %w", err)
	}
	contents, err := unmarshalTicketContents(plaintext)
	if err != nil {
		return nil, err
	}
	age := now.Sub(time.Unix(contents.IssuedAtUnix, 0))
	if age < 0 || age > defaultTicketLifetime {
		return nil, fmt.Errorf("tls13: ticket expired")
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	key := string(ticket)
	if _, seen := tm.redeemed[key]; seen {
		return nil, fmt.Errorf("tls13: ticket already redeemed")
	}
	tm.redeemed[key] = now
	tm.gcLocked(now)
	return contents, nil
}

// gcLocked drops replay-window entries for tickets that could no longer
// be valid anyway, bounding the map's size. Caller holds tm.mu.
func (tm *ticketManager) gcLocked(now time.Time) {
	for k, seenAt := range tm.redeemed {
		if now.Sub(seenAt) > maxTicketLifetime {
			delete(tm.redeemed, k)
		}
	}
}

// clientTicket is what the client-side cache retains after receiving a
// NewSessionTicket: enough to build a future ClientHello's pre_shared_key
// extension and compute obfuscated_ticket_age.
type clientTicket struct {
	ServerName             string
	CipherSuite            CipherSuite
	Ticket                 []byte
	AgeAdd                 uint32
	LifetimeSeconds        uint32
	ReceivedAt             time.Time
	ResumptionMasterSecret []byte
	Nonce                  []byte
	MaxEarlyDataSize       uint32
}

func (t *clientTicket) psk(suite *cipherSuiteParams) ([]byte, error) {
	return resumptionPSK(suite, t.ResumptionMasterSecret, t.Nonce)
}

// obfuscatedTicketAge computes RFC 8446 §4.2.11.1's ticket_age + age_add,
// both mod 2^32.
func (t *clientTicket) obfuscatedTicketAge(now time.Time) uint32 {
	ageMillis := uint32(now.Sub(t.ReceivedAt).Milliseconds())
	return ageMillis + t.AgeAdd
}

// clientTicketCache keeps at most one ticket per (server name, cipher
// suite) pair, overwriting older tickets for the same key the way
// spec.md's Open Question resolves "how many tickets to retain per host".
type clientTicketCache struct {
	mu      sync.Mutex
	entries map[string]*clientTicket
}

func newClientTicketCache() *clientTicketCache {
	return &clientTicketCache{entries: make(map[string]*clientTicket)}
}

// ClientSessionCache is a clientTicketCache shared across multiple Connect
// calls, so a caller can actually observe resumption between two separate
// connections to the same server rather than only within one (spec.md §9).
type ClientSessionCache = clientTicketCache

// NewClientSessionCache creates an empty cache suitable for Config.SessionCache.
func NewClientSessionCache() *ClientSessionCache {
	return newClientTicketCache()
}

func ticketCacheKey(serverName string, suite CipherSuite) string {
	return fmt.Sprintf("%s|%#04x", serverName, uint16(suite))
}

func (c *clientTicketCache) put(t *clientTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ticketCacheKey(t.ServerName, t.CipherSuite)] = t
}

// get returns the best (first, in preference order) cached ticket whose
// cipher suite is in suites for serverName, plus whether one was found.
func (c *clientTicketCache) get(serverName string, suites []CipherSuite) (*clientTicket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, suite := range suites {
		if t, ok := c.entries[ticketCacheKey(serverName, suite)]; ok {
			return t, true
		}
	}
	return nil, false
}

func (c *clientTicketCache) remove(t *clientTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ticketCacheKey(t.ServerName, t.CipherSuite))
}
