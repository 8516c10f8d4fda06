package tls13

// ContentType identifies the payload carried by a TLS record.
type ContentType uint8

const (
	ContentTypeInvalid          ContentType = 0
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeInvalid:
		return "invalid"
	case ContentTypeChangeCipherSpec:
		return "change_cipher_spec"
	case ContentTypeAlert:
		return "alert"
	case ContentTypeHandshake:
		return "handshake"
	case ContentTypeApplicationData:
		return "application_data"
	default:
		return "unknown_content_type"
	}
}

// ProtocolVersion is the two-byte wire version. TLS 1.3 freezes
// legacy_version at TLS12 everywhere except the supported_versions
// extension, which carries the real value.
type ProtocolVersion uint16

const (
	VersionTLS10 ProtocolVersion = 0x0301
	VersionTLS11 ProtocolVersion = 0x0302
	VersionTLS12 ProtocolVersion = 0x0303
	VersionTLS13 ProtocolVersion = 0x0304
)

// HandshakeType identifies a handshake message. Only the TLS 1.3 subset
// named in spec.md §3 is accepted; anything else is rejected with an
// unexpected_message alert.
type HandshakeType uint8

const (
	HandshakeTypeClientHello         HandshakeType = 1
	HandshakeTypeServerHello         HandshakeType = 2
	HandshakeTypeNewSessionTicket    HandshakeType = 4
	HandshakeTypeEndOfEarlyData      HandshakeType = 5
	HandshakeTypeEncryptedExtensions HandshakeType = 8
	HandshakeTypeCertificate         HandshakeType = 11
	HandshakeTypeCertificateRequest  HandshakeType = 13
	HandshakeTypeCertificateVerify   HandshakeType = 15
	HandshakeTypeFinished            HandshakeType = 20
	HandshakeTypeKeyUpdate           HandshakeType = 24
	// HandshakeTypeMessageHash is the synthetic wrapper used to replace
	// ClientHello1 in the transcript after a HelloRetryRequest (spec.md §4.5).
	HandshakeTypeMessageHash HandshakeType = 254
)

func (h HandshakeType) String() string {
	switch h {
	case HandshakeTypeClientHello:
		return "client_hello"
	case HandshakeTypeServerHello:
		return "server_hello"
	case HandshakeTypeNewSessionTicket:
		return "new_session_ticket"
	case HandshakeTypeEndOfEarlyData:
		return "end_of_early_data"
	case HandshakeTypeEncryptedExtensions:
		return "encrypted_extensions"
	case HandshakeTypeCertificate:
		return "certificate"
	case HandshakeTypeCertificateRequest:
		return "certificate_request"
	case HandshakeTypeCertificateVerify:
		return "certificate_verify"
	case HandshakeTypeFinished:
		return "finished"
	case HandshakeTypeKeyUpdate:
		return "key_update"
	case HandshakeTypeMessageHash:
		return "message_hash"
	default:
		return "unknown_handshake_type"
	}
}

// ExtensionType identifies a ClientHello/ServerHello/EncryptedExtensions
// extension. Only the types enumerated in spec.md §6 are recognized.
type ExtensionType uint16

const (
	ExtensionServerName          ExtensionType = 0
	ExtensionSupportedGroups     ExtensionType = 10
	ExtensionSignatureAlgorithms ExtensionType = 13
	ExtensionALPN                ExtensionType = 16
	ExtensionRecordSizeLimit     ExtensionType = 28
	ExtensionSupportedVersions   ExtensionType = 43
	ExtensionCookie              ExtensionType = 44
	ExtensionPSKKeyExchangeModes ExtensionType = 45
	ExtensionEarlyData           ExtensionType = 42
	ExtensionPreSharedKey        ExtensionType = 41
	ExtensionKeyShare            ExtensionType = 51
)

// NamedGroup identifies a key-exchange group.
type NamedGroup uint16

const (
	GroupSecp256r1 NamedGroup = 0x0017
	GroupX25519    NamedGroup = 0x001d
)

// SignatureScheme identifies a signature algorithm, per spec.md §6.
type SignatureScheme uint16

const (
	ECDSAWithP256AndSHA256 SignatureScheme = 0x0403
	ECDSAWithP384AndSHA384 SignatureScheme = 0x0503
	PSSWithSHA256          SignatureScheme = 0x0804
)

// CipherSuite identifies a TLS 1.3 AEAD/hash pair.
type CipherSuite uint16

const (
	TLS_AES_128_GCM_SHA256       CipherSuite = 0x1301
	TLS_AES_256_GCM_SHA384       CipherSuite = 0x1302
	TLS_CHACHA20_POLY1305_SHA256 CipherSuite = 0x1303
)

// PSKKeyExchangeMode identifies whether a PSK may be used with or without
// a fresh (EC)DHE contribution. This module always requires psk_dhe_ke
// (spec.md never asks for pure-PSK 0-RTT-only PSK modes).
type PSKKeyExchangeMode uint8

const (
	PSKKeyExchangeModePSKOnly PSKKeyExchangeMode = 0
	PSKKeyExchangeModePSKDHE  PSKKeyExchangeMode = 1
)

// helloRetryRequestRandom is SHA-256("HelloRetryRequest"), the sentinel
// value a ServerHello.random must equal to be recognized as an HRR.
var helloRetryRequestRandom = [32]byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}
