package tls13

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// clientCertificateVerifyContext and serverCertificateVerifyContext are
// the two context strings RFC 8446 §4.4.3 defines.
const (
	serverCertificateVerifyContext = "TLS 1.3, server CertificateVerify"
	clientCertificateVerifyContext = "TLS 1.3, client CertificateVerify"
)

// certificateVerifySignatureInput builds the 64*0x20-padded signature
// content RFC 8446 §4.4.3 specifies: this is what gets hashed and signed
// (or verified), never the transcript hash directly. Grounded on
// shu-yusa-go-tls/tls13/client_hello_handler.go's SignCertificate, which
// hand-builds the same padded buffer before calling into crypto/ecdsa.
func certificateVerifySignatureInput(contextString string, transcriptHash []byte) []byte {
	buf := make([]byte, 0, 64+len(contextString)+1+len(transcriptHash))
	for i := 0; i < 64; i++ {
		buf = append(buf, 0x20)
	}
	buf = append(buf, contextString...)
	buf = append(buf, 0)
	buf = append(buf, transcriptHash...)
	return buf
}

func hashForScheme(scheme SignatureScheme) (crypto.Hash, error) {
	switch scheme {
	case ECDSAWithP256AndSHA256:
		return crypto.SHA256, nil
	case ECDSAWithP384AndSHA384:
		return crypto.SHA384, nil
	case PSSWithSHA256:
		return crypto.SHA256, nil
	default:
		return 0, fmt.Errorf("tls13: unsupported signature scheme %#04x", uint16(scheme))
	}
}

func signerOptsForScheme(scheme SignatureScheme) (crypto.SignerOpts, error) {
	switch scheme {
	case PSSWithSHA256:
		return &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}, nil
	case ECDSAWithP256AndSHA256:
		return crypto.SHA256, nil
	case ECDSAWithP384AndSHA384:
		return crypto.SHA384, nil
	default:
		return nil, fmt.Errorf("tls13: unsupported signature scheme %#04x", uint16(scheme))
	}
}

// signCertificateVerify signs the handshake transcript using the
// stdlib crypto.Signer interface, matching the Signer type spec.md §6
// requires for plugging in arbitrary key material (HSM-backed, etc).
func signCertificateVerify(signer crypto.Signer, scheme SignatureScheme, contextString string, transcriptHash []byte) (*CertificateVerifyMsg, error) {
	hashAlgo, err := hashForScheme(scheme)
	if err != nil {
		return nil, internalErrorf("%v", err)
	}
	opts, err := signerOptsForScheme(scheme)
	if err != nil {
		return nil, internalErrorf("%v", err)
	}
	h := hashAlgo.New()
	h.Write(certificateVerifySignatureInput(contextString, transcriptHash))
	digest := h.Sum(nil)

	sig, err := signer.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, internalErrorf("signing CertificateVerify: %v", err)
	}
	return &CertificateVerifyMsg{Algorithm: scheme, Signature: sig}, nil
}

// verifyCertificateVerify checks a peer's CertificateVerify signature
// against its leaf certificate's public key.
func verifyCertificateVerify(pub crypto.PublicKey, scheme SignatureScheme, contextString string, transcriptHash, signature []byte) error {
	hashAlgo, err := hashForScheme(scheme)
	if err != nil {
		return badCertificatef("%v", err)
	}
	h := hashAlgo.New()
	h.Write(certificateVerifySignatureInput(contextString, transcriptHash))
	digest := h.Sum(nil)

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return badCertificatef("ECDSA CertificateVerify signature invalid")
		}
		return nil
	case *rsa.PublicKey:
		if scheme != PSSWithSHA256 {
			return badCertificatef("unexpected signature scheme for RSA key: %#04x", uint16(scheme))
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hashAlgo}
		if err := rsa.VerifyPSS(key, hashAlgo, digest, signature, opts); err != nil {
			return badCertificatef("RSA-PSS CertificateVerify signature invalid: %v", err)
		}
		return nil
	default:
		return badCertificatef("unsupported certificate public key type %T", pub)
	}
}

// CertificateVerifier authenticates a peer's certificate chain. spec.md
// §6 leaves chain validation pluggable so callers can supply custom trust
// policies (pinning, SPIFFE, etc); defaultCertificateVerifier covers the
// ordinary root-pool case.
type CertificateVerifier interface {
	VerifyChain(chain []*x509.Certificate, serverName string) error
}

// defaultCertificateVerifier validates against a standard x509.CertPool,
// the way shu-yusa-go-tls and hxzhao527-stls both delegate to
// crypto/x509's own chain-building verifier rather than reimplementing it.
type defaultCertificateVerifier struct {
	roots *x509.CertPool
}

func (v *defaultCertificateVerifier) VerifyChain(chain []*x509.Certificate, serverName string) error {
	if len(chain) == 0 {
		return badCertificatef("empty certificate chain")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		DNSName:       serverName,
	}
	if _, err := chain[0].Verify(opts); err != nil {
		return badCertificatef("certificate verification failed: %v", err)
	}
	return nil
}

func parseCertificateChain(msg *CertificateMsg) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(msg.Chain))
	for _, entry := range msg.Chain {
		cert, err := x509.ParseCertificate(entry.Data)
		if err != nil {
			return nil, badCertificatef("parsing certificate: %v", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
