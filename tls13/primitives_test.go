package tls13

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestHKDFExtractZeroesMissingInputs(t *testing.T) {
	t.Parallel()
	a := hkdfExtract(sha256.New, nil, nil)
	b := hkdfExtract(sha256.New, make([]byte, sha256.Size), make([]byte, sha256.Size))
	if !bytes.Equal(a, b) {
		t.Fatalf("nil salt/ikm should behave like explicit zero vectors")
	}
	if len(a) != sha256.Size {
		t.Fatalf("got length %d, want %d", len(a), sha256.Size)
	}
}

func TestHKDFExpandLabelLengthAndDeterminism(t *testing.T) {
	t.Parallel()
	secret := bytes.Repeat([]byte{0x42}, sha256.Size)

	out1, err := hkdfExpandLabel(sha256.New, secret, "derived", nil, 32)
	if err != nil {
		t.Fatalf("hkdfExpandLabel: %v", err)
	}
	if len(out1) != 32 {
		t.Fatalf("got length %d, want 32", len(out1))
	}

	out2, err := hkdfExpandLabel(sha256.New, secret, "derived", nil, 32)
	if err != nil {
		t.Fatalf("hkdfExpandLabel: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatalf("hkdfExpandLabel is not deterministic")
	}

	outDifferentLabel, err := hkdfExpandLabel(sha256.New, secret, "c hs traffic", nil, 32)
	if err != nil {
		t.Fatalf("hkdfExpandLabel: %v", err)
	}
	if bytes.Equal(out1, outDifferentLabel) {
		t.Fatalf("different labels must not collide")
	}

	outDifferentContext, err := hkdfExpandLabel(sha256.New, secret, "derived", []byte{0x01}, 32)
	if err != nil {
		t.Fatalf("hkdfExpandLabel: %v", err)
	}
	if bytes.Equal(out1, outDifferentContext) {
		t.Fatalf("different contexts must not collide")
	}
}

func TestDeriveSecretUsesTranscriptHash(t *testing.T) {
	t.Parallel()
	secret := bytes.Repeat([]byte{0x7}, sha256.Size)
	h1 := sha256.Sum256([]byte("client_hello_1"))
	h2 := sha256.Sum256([]byte("client_hello_2"))

	s1, err := deriveSecret(sha256.New, secret, "c hs traffic", h1[:])
	if err != nil {
		t.Fatalf("deriveSecret: %v", err)
	}
	s2, err := deriveSecret(sha256.New, secret, "c hs traffic", h2[:])
	if err != nil {
		t.Fatalf("deriveSecret: %v", err)
	}
	if bytes.Equal(s1, s2) {
		t.Fatalf("distinct transcript hashes must yield distinct secrets")
	}
	if len(s1) != sha256.Size {
		t.Fatalf("got length %d, want %d", len(s1), sha256.Size)
	}
}

func TestTranscriptWriteAndSum(t *testing.T) {
	t.Parallel()
	tr := newTranscript(sha256.New)
	tr.write([]byte("client_hello"))
	afterOne := tr.sum()

	tr.write([]byte("server_hello"))
	afterTwo := tr.sum()

	if bytes.Equal(afterOne, afterTwo) {
		t.Fatalf("sum must change after appending more messages")
	}

	want := sha256.Sum256([]byte("client_helloserver_hello"))
	if !bytes.Equal(afterTwo, want[:]) {
		t.Fatalf("sum mismatch: got %x want %x", afterTwo, want)
	}
}

func TestTranscriptCloneIsIndependent(t *testing.T) {
	t.Parallel()
	tr := newTranscript(sha256.New)
	tr.write([]byte("client_hello_without_binders"))

	clone := tr.clone()
	tr.write([]byte("binders"))

	if bytes.Equal(tr.sum(), clone.sum()) {
		t.Fatalf("writes to the original must not leak into the clone")
	}
	want := sha256.Sum256([]byte("client_hello_without_binders"))
	if !bytes.Equal(clone.sum(), want[:]) {
		t.Fatalf("clone's sum changed unexpectedly")
	}
}

func TestTranscriptRewriteForHelloRetryRequest(t *testing.T) {
	t.Parallel()
	tr := newTranscript(sha256.New)
	ch1 := []byte("client_hello_1")
	tr.write(ch1)
	ch1Hash := tr.sum()

	tr.rewriteForHelloRetryRequest()

	if tr.buf[0] != byte(HandshakeTypeMessageHash) {
		t.Fatalf("rewritten transcript must start with the message_hash type byte")
	}
	wantLen := len(ch1Hash)
	gotLen := int(tr.buf[1])<<16 | int(tr.buf[2])<<8 | int(tr.buf[3])
	if gotLen != wantLen {
		t.Fatalf("message_hash length = %d, want %d", gotLen, wantLen)
	}
	if !bytes.Equal(tr.buf[4:], ch1Hash) {
		t.Fatalf("message_hash body must be Hash(ClientHello1)")
	}

	tr.write([]byte("hello_retry_request"))
	afterHRR := tr.sum()
	h := sha256.New()
	h.Write(tr.buf[:4+len(ch1Hash)])
	h.Write([]byte("hello_retry_request"))
	if !bytes.Equal(afterHRR, h.Sum(nil)) {
		t.Fatalf("sum after HRR append did not match the rewritten+appended buffer")
	}
}
