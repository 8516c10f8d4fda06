package tls13

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Certificate is a leaf-first DER certificate chain plus the private key
// (as a stdlib crypto.Signer) used to sign CertificateVerify. Only ECDSA
// P-256/P-384 and RSA-PSS signature schemes are supported, so the key must
// be an ECDSA or RSA key (or an HSM-backed Signer for one); ed25519 keys
// are not supported. Grounded on
// hxzhao527-stls's own tls.Certificate reuse and shu-yusa-go-tls's
// tls.LoadX509KeyPair-sourced certificates.
type Certificate struct {
	Chain      [][]byte
	PrivateKey crypto.Signer
}

// Config holds everything spec.md §6 names as endpoint configuration:
// identity material, trust policy, algorithm preferences, and the
// ambient-stack hooks (logging, key logging). Grounded on how
// hxzhao527-stls threads c.config.* through state.go/state_tls13.go
// (c.config.rand(), c.config.Certificates, cipher-suite preference order).
type Config struct {
	// ServerName is the name the client sends in its server_name
	// extension and verifies the server's certificate against.
	ServerName string

	// Certificates is this endpoint's identity (server: always used;
	// client: only sent if the server requests one, which this module
	// never does — see handshake_messages.go's CertificateRequestMsg note).
	Certificates []Certificate

	// RootCAs is the trust pool a client verifies a server chain
	// against, when CertificateVerifier is nil.
	RootCAs *x509.CertPool

	// CertificateVerifier overrides the default x509.CertPool-based
	// verification, letting callers pin certificates or apply a custom
	// trust policy (spec.md §6).
	CertificateVerifier CertificateVerifier

	// CipherSuites, Groups, and SignatureSchemes constrain negotiation,
	// in preference order. A nil slice means "all of this module's
	// defaults" (defaultCipherSuites / defaultGroups / defaultSignatureSchemes).
	CipherSuites     []CipherSuite
	Groups           []NamedGroup
	SignatureSchemes []SignatureScheme

	// RecordSizeLimit is advertised by a server in the record_size_limit
	// extension of its EncryptedExtensions (spec.md §6); a zero value
	// advertises the 16384 default. A client does not send the extension.
	// Neither side limits its outgoing records to the size the peer
	// advertises.
	RecordSizeLimit uint16

	// AcceptResumption enables the server accepting PSK-based resumption;
	// OfferPSK enables the client offering a cached ticket.
	AcceptResumption bool
	OfferPSK         bool

	// SessionCache, if set, is reused across Connect/ConnectEarlyData
	// calls so a ticket received on one connection can be offered on the
	// next. A nil SessionCache gets a private one scoped to that single
	// connection (so no cross-connection resumption is possible).
	SessionCache *ClientSessionCache

	// AcceptEarlyData enables the server accepting 0-RTT application
	// data; OfferEarlyData enables the client sending it. Both require
	// AcceptResumption/OfferPSK to be meaningful.
	AcceptEarlyData  bool
	OfferEarlyData   bool
	MaxEarlyDataSize uint32

	// KeyLogWriter, if non-nil, receives NSS key log format lines for
	// each derived secret (matching the well-known SSLKEYLOGFILE
	// convention, useful with Wireshark during development).
	KeyLogWriter io.Writer

	// Logger, if non-nil, receives structured handshake-stage
	// diagnostics. A nil Logger falls back to zerolog.Nop().
	Logger *zerolog.Logger

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader

	// Time defaults to time.Now, overridable for deterministic tests of
	// ticket lifetime/obfuscated-age logic.
	Time func() time.Time
}

func (c *Config) rand() io.Reader {
	if c != nil && c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c *Config) now() time.Time {
	if c != nil && c.Time != nil {
		return c.Time()
	}
	return time.Now()
}

func (c *Config) logger() *zerolog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (c *Config) cipherSuites() []CipherSuite {
	if c != nil && len(c.CipherSuites) > 0 {
		return c.CipherSuites
	}
	return defaultCipherSuites
}

func (c *Config) groups() []NamedGroup {
	if c != nil && len(c.Groups) > 0 {
		return c.Groups
	}
	return defaultGroups
}

func (c *Config) signatureSchemes() []SignatureScheme {
	if c != nil && len(c.SignatureSchemes) > 0 {
		return c.SignatureSchemes
	}
	return defaultSignatureSchemes
}

var defaultSignatureSchemes = []SignatureScheme{
	ECDSAWithP256AndSHA256,
	ECDSAWithP384AndSHA384,
	PSSWithSHA256,
}

func (c *Config) certificateVerifier() CertificateVerifier {
	if c != nil && c.CertificateVerifier != nil {
		return c.CertificateVerifier
	}
	var roots *x509.CertPool
	if c != nil {
		roots = c.RootCAs
	}
	return &defaultCertificateVerifier{roots: roots}
}

func (c *Config) recordSizeLimit() int {
	if c != nil && c.RecordSizeLimit > 0 {
		return int(c.RecordSizeLimit)
	}
	return defaultRecordSizeLimit
}

// writeKeyLog emits one NSS key log format line, if a KeyLogWriter is set.
// label is one of the standard labels (CLIENT_HANDSHAKE_TRAFFIC_SECRET,
// SERVER_TRAFFIC_SECRET_0, etc).
func (c *Config) writeKeyLog(label string, clientRandom, secret []byte) {
	if c == nil || c.KeyLogWriter == nil {
		return
	}
	line := label + " " + hexEncode(clientRandom) + " " + hexEncode(secret) + "\n"
	c.KeyLogWriter.Write([]byte(line))
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}
