package tls13

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20poly1305"
)

// cipherSuiteParams describes one of the three suites spec.md §1 allows.
// Grounded on shu-yusa-go-tls's TLS_AES_128_GCM_SHA256 constant and
// 41Baloo-TLState__tls13.go's explicit chacha20poly1305 wiring for the
// third suite (see DESIGN.md).
type cipherSuiteParams struct {
	suite   CipherSuite
	hash    func() hash.Hash
	keyLen  int
	nonceLen int
	aead    func(key []byte) (cipher.AEAD, error)
}

const nonceLen = 12 // RFC 8446 §5.3: per-record nonces are always 12 bytes.

var cipherSuites = map[CipherSuite]*cipherSuiteParams{
	TLS_AES_128_GCM_SHA256: {
		suite: TLS_AES_128_GCM_SHA256, hash: sha256.New, keyLen: 16, nonceLen: nonceLen,
		aead: newAESGCM,
	},
	TLS_AES_256_GCM_SHA384: {
		suite: TLS_AES_256_GCM_SHA384, hash: sha512.New384, keyLen: 32, nonceLen: nonceLen,
		aead: newAESGCM,
	},
	TLS_CHACHA20_POLY1305_SHA256: {
		suite: TLS_CHACHA20_POLY1305_SHA256, hash: sha256.New, keyLen: chacha20poly1305.KeySize, nonceLen: nonceLen,
		aead: chacha20poly1305.New,
	},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func cipherSuiteByID(id CipherSuite) (*cipherSuiteParams, error) {
	p, ok := cipherSuites[id]
	if !ok {
		return nil, fmt.Errorf("tls13: unsupported cipher suite %#04x", uint16(id))
	}
	return p, nil
}

// defaultCipherSuites is the server's/client's preference order absent
// explicit configuration, matching spec.md §6 ("default: all three").
var defaultCipherSuites = []CipherSuite{
	TLS_AES_128_GCM_SHA256,
	TLS_AES_256_GCM_SHA384,
	TLS_CHACHA20_POLY1305_SHA256,
}

// sealNonce XORs the per-direction IV with the big-endian sequence number,
// per spec.md §4.1 ("per-record nonce is iv XOR be64(seq) left-padded").
func sealNonce(iv []byte, seq uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(seq >> (8 * i))
	}
	return nonce
}
