package tls13

import (
	"hash"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// hkdfExtract and hkdfExpandLabel implement spec.md §4.1's HKDF suite.
// Grounded on shu-yusa-go-tls/tls13/helper.go's HKDFExpandLabel/DeriveSecret,
// generalized to take the hash constructor explicitly (the teacher's demo
// hardcodes sha256.New) so all three cipher suites' hashes are supported.
func hkdfExtract(h func() hash.Hash, salt, ikm []byte) []byte {
	if ikm == nil {
		ikm = make([]byte, h().Size())
	}
	if salt == nil {
		salt = make([]byte, h().Size())
	}
	return hkdf.Extract(h, ikm, salt)
}

// hkdfExpandLabel implements HKDF-Expand-Label from RFC 8446 §7.1: the
// info string is struct{uint16 length; opaque label<7..255>=("tls13 "+label);
// opaque context<0..255>=context}, encoded here with cryptobyte the way
// handshake_messages.go encodes every other length-prefixed vector.
func hkdfExpandLabel(h func() hash.Hash, secret []byte, label string, context []byte, length int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(length))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 " + label))
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	info, err := b.Bytes()
	if err != nil {
		return nil, internalErrorf("building HKDF-Expand-Label info: %v", err)
	}

	out := make([]byte, length)
	r := hkdf.Expand(h, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, internalErrorf("HKDF-Expand-Label(%q): %v", label, err)
	}
	return out, nil
}

// deriveSecret implements Derive-Secret(Secret, Label, Messages) from
// RFC 8446 §7.1, where Messages is the running transcript hash.
func deriveSecret(h func() hash.Hash, secret []byte, label string, transcriptHash []byte) ([]byte, error) {
	return hkdfExpandLabel(h, secret, label, transcriptHash, h().Size())
}

// transcript accumulates handshake-message bytes in wire order (type +
// 24-bit length + body) and produces the running hash on demand. Grounded
// on spec.md §4.1's accumulator contract and §9's "append-only buffer with
// one privileged rewrite-head operation" for HelloRetryRequest.
type transcript struct {
	hash func() hash.Hash
	buf  []byte
}

func newTranscript(h func() hash.Hash) *transcript {
	return &transcript{hash: h}
}

// write appends a complete handshake message (as produced by
// marshalHandshake in handshake_messages.go) to the transcript.
func (t *transcript) write(msg []byte) {
	t.buf = append(t.buf, msg...)
}

// sum returns Hash(buffer-so-far).
func (t *transcript) sum() []byte {
	h := t.hash()
	h.Write(t.buf)
	return h.Sum(nil)
}

// rewriteForHelloRetryRequest replaces the transcript's current contents
// (ClientHello1, and nothing else — HRR must be the very next message)
// with the synthetic message_hash wrapper defined in spec.md §4.5:
// type=254, length=Hash.length, body=Hash(CH1). This is the "privileged
// rewrite head" operation spec.md §9 calls for; it must only ever be
// invoked once per connection (a second HRR is fatal, enforced by callers).
func (t *transcript) rewriteForHelloRetryRequest() {
	sum := t.sum()
	synthetic := make([]byte, 0, 4+len(sum))
	synthetic = append(synthetic, byte(HandshakeTypeMessageHash))
	synthetic = append(synthetic, byte(len(sum)>>16), byte(len(sum)>>8), byte(len(sum)))
	synthetic = append(synthetic, sum...)
	t.buf = synthetic
}

// clone returns an independent copy, used when a transcript hash must be
// taken at a point in time that later writes shouldn't affect (e.g. the
// PSK binder is computed over ClientHelloWithoutBinders while the real
// transcript continues to accumulate the final ClientHello with binders
// filled in).
func (t *transcript) clone() *transcript {
	c := &transcript{hash: t.hash, buf: make([]byte, len(t.buf))}
	copy(c.buf, t.buf)
	return c
}
