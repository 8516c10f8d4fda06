package tls13

import (
	"golang.org/x/crypto/cryptobyte"
)

// This file's shape (marshalingFunction adapter, addUint64/readUint64,
// readUint*LengthPrefixed helpers) is grounded on
// other_examples/LuckyLuke-a-Steal__handshake_messages.go, which is
// stdlib crypto/tls's own handshake-message codec rewritten over
// golang.org/x/crypto/cryptobyte (see SPEC_FULL.md §0 and DESIGN.md).

// marshalingFunction adapts an ordinary function to cryptobyte.MarshalingValue.
type marshalingFunction func(b *cryptobyte.Builder) error

func (f marshalingFunction) Marshal(b *cryptobyte.Builder) error { return f(b) }

func addUint24LengthPrefixed(b *cryptobyte.Builder, f func(b *cryptobyte.Builder)) {
	b.AddUint24LengthPrefixed(f)
}

// marshalHandshake frames a message body with its one-byte type and
// 24-bit length, per spec.md §3 ("each prefixed by a one-byte type and a
// 24-bit length").
func marshalHandshake(msgType HandshakeType, body []byte) []byte {
	out := make([]byte, 0, 4+len(body))
	out = append(out, byte(msgType))
	out = append(out, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	out = append(out, body...)
	return out
}

// splitHandshakeHeader reads one handshake message's type+length+body from
// the front of data and returns the remainder. Refuses truncated input.
func splitHandshakeHeader(data []byte) (msgType HandshakeType, body []byte, rest []byte, err error) {
	if len(data) < 4 {
		return 0, nil, nil, decodeErrorf("handshake header truncated: %d bytes", len(data))
	}
	msgType = HandshakeType(data[0])
	length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+length {
		return 0, nil, nil, decodeErrorf("handshake message truncated: want %d body bytes, have %d", length, len(data)-4)
	}
	return msgType, data[4 : 4+length], data[4+length:], nil
}

// ClientHelloMsg is the ClientHello handshake message (spec.md §3, §4.5).
type ClientHelloMsg struct {
	LegacyVersion            ProtocolVersion
	Random                   [32]byte
	LegacySessionID          []byte
	CipherSuites             []CipherSuite
	LegacyCompressionMethods []byte

	SupportedVersions   []ProtocolVersion
	SupportedGroups     []NamedGroup
	KeyShares           []keyShareEntryWire
	SignatureAlgorithms []SignatureScheme
	ServerName          string
	PSKKeyExchangeModes []PSKKeyExchangeMode
	Cookie              []byte
	EarlyData           bool
	ALPNProtocols       []string
	RecordSizeLimit     uint16

	// PreSharedKey, if non-nil, must be the last extension on the wire
	// (spec.md §4.5's ordering constraint).
	PreSharedKey *preSharedKeyClientExtension

	// raw holds a copy of the exact body bytes last passed to Unmarshal
	// (Marshal does not set it); the server uses its length to drop the
	// received ClientHello from the transcript when checking a PSK binder.
	raw []byte
}

type keyShareEntryWire struct {
	Group NamedGroup
	Data  []byte
}

type preSharedKeyClientExtension struct {
	Identities []pskIdentity
	// BinderListOffset is not set by Marshal or Unmarshal and is not read
	// anywhere; binder computation instead truncates the framed ClientHello
	// by the binder section's length (see marshalClientHelloWithBinder in
	// handshake_client.go and tryResumption in handshake_server.go).
	BinderListOffset int
	Binders          [][]byte
}

type pskIdentity struct {
	Identity            []byte
	ObfuscatedTicketAge uint32
}

// Marshal encodes the ClientHello body (without the handshake header).
// marshalClientHelloWithBinder in handshake_client.go calls it with a
// zero-filled binder to get the form the real binder is computed over,
// then patches the binder in place.
func (m *ClientHelloMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(m.LegacyVersion))
	b.AddBytes(m.Random[:])
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.LegacySessionID) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, cs := range m.CipherSuites {
			b.AddUint16(uint16(cs))
		}
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.LegacyCompressionMethods) })

	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		m.marshalExtensions(b)
	})
	return b.Bytes()
}

func (m *ClientHelloMsg) marshalExtensions(b *cryptobyte.Builder) {
	addExt := func(typ ExtensionType, f func(b *cryptobyte.Builder)) {
		b.AddUint16(uint16(typ))
		b.AddUint16LengthPrefixed(f)
	}

	if len(m.SupportedVersions) > 0 {
		addExt(ExtensionSupportedVersions, func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, v := range m.SupportedVersions {
					b.AddUint16(uint16(v))
				}
			})
		})
	}
	if len(m.SupportedGroups) > 0 {
		addExt(ExtensionSupportedGroups, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, g := range m.SupportedGroups {
					b.AddUint16(uint16(g))
				}
			})
		})
	}
	if len(m.KeyShares) > 0 {
		addExt(ExtensionKeyShare, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, ks := range m.KeyShares {
					b.AddUint16(uint16(ks.Group))
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(ks.Data) })
				}
			})
		})
	}
	if len(m.SignatureAlgorithms) > 0 {
		addExt(ExtensionSignatureAlgorithms, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, sa := range m.SignatureAlgorithms {
					b.AddUint16(uint16(sa))
				}
			})
		})
	}
	if m.ServerName != "" {
		addExt(ExtensionServerName, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0) // host_name
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(m.ServerName)) })
			})
		})
	}
	if len(m.PSKKeyExchangeModes) > 0 {
		addExt(ExtensionPSKKeyExchangeModes, func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, mode := range m.PSKKeyExchangeModes {
					b.AddUint8(uint8(mode))
				}
			})
		})
	}
	if m.RecordSizeLimit > 0 {
		addExt(ExtensionRecordSizeLimit, func(b *cryptobyte.Builder) {
			b.AddUint16(m.RecordSizeLimit)
		})
	}
	if len(m.ALPNProtocols) > 0 {
		addExt(ExtensionALPN, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, p := range m.ALPNProtocols {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(p)) })
				}
			})
		})
	}
	if m.EarlyData {
		addExt(ExtensionEarlyData, func(b *cryptobyte.Builder) {})
	}
	if m.Cookie != nil {
		addExt(ExtensionCookie, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Cookie) })
		})
	}
	// pre_shared_key MUST be last (spec.md §4.5).
	if m.PreSharedKey != nil {
		addExt(ExtensionPreSharedKey, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, id := range m.PreSharedKey.Identities {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(id.Identity) })
					b.AddUint32(id.ObfuscatedTicketAge)
				}
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, binder := range m.PreSharedKey.Binders {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(binder) })
				}
			})
		})
	}
}

// Unmarshal decodes a ClientHello body. It refuses duplicate extension
// types and a pre_shared_key extension that isn't last (spec.md §4.5).
func (m *ClientHelloMsg) Unmarshal(data []byte) error {
	m.raw = append([]byte(nil), data...)
	s := cryptobyte.String(data)

	var version uint16
	if !s.ReadUint16(&version) {
		return decodeErrorf("client_hello: truncated legacy_version")
	}
	m.LegacyVersion = ProtocolVersion(version)

	var random []byte
	if !s.ReadBytes(&random, 32) {
		return decodeErrorf("client_hello: truncated random")
	}
	copy(m.Random[:], random)

	if !readUint8Vector(&s, &m.LegacySessionID) {
		return decodeErrorf("client_hello: truncated legacy_session_id")
	}
	if len(m.LegacySessionID) > 32 {
		return illegalParameterf("client_hello: legacy_session_id too long: %d", len(m.LegacySessionID))
	}

	var cipherSuitesRaw cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cipherSuitesRaw) {
		return decodeErrorf("client_hello: truncated cipher_suites")
	}
	for !cipherSuitesRaw.Empty() {
		var cs uint16
		if !cipherSuitesRaw.ReadUint16(&cs) {
			return decodeErrorf("client_hello: malformed cipher_suites")
		}
		m.CipherSuites = append(m.CipherSuites, CipherSuite(cs))
	}

	if !readUint8Vector(&s, &m.LegacyCompressionMethods) {
		return decodeErrorf("client_hello: truncated legacy_compression_methods")
	}

	if s.Empty() {
		// Extensions are mandatory in a TLS 1.3 ClientHello (supported_versions
		// must be present), but absence here is a decode-level, not
		// protocol-level, concern; callers enforce presence.
		return nil
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return decodeErrorf("client_hello: trailing bytes after extensions")
	}

	seen := map[ExtensionType]bool{}
	sawPSK := false
	for !extensions.Empty() {
		if sawPSK {
			return illegalParameterf("client_hello: extension after pre_shared_key")
		}
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return decodeErrorf("client_hello: malformed extension header")
		}
		et := ExtensionType(extType)
		if seen[et] {
			return illegalParameterf("client_hello: duplicate extension %d", extType)
		}
		seen[et] = true

		if err := m.parseExtension(et, extData); err != nil {
			return err
		}
		if et == ExtensionPreSharedKey {
			sawPSK = true
		}
	}
	return nil
}

func (m *ClientHelloMsg) parseExtension(et ExtensionType, data cryptobyte.String) error {
	switch et {
	case ExtensionSupportedVersions:
		var versions cryptobyte.String
		if !data.ReadUint8LengthPrefixed(&versions) {
			return decodeErrorf("client_hello: malformed supported_versions")
		}
		for !versions.Empty() {
			var v uint16
			if !versions.ReadUint16(&v) {
				return decodeErrorf("client_hello: malformed supported_versions entry")
			}
			m.SupportedVersions = append(m.SupportedVersions, ProtocolVersion(v))
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in supported_versions")
		}
	case ExtensionSupportedGroups:
		var groups cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&groups) {
			return decodeErrorf("client_hello: malformed supported_groups")
		}
		for !groups.Empty() {
			var g uint16
			if !groups.ReadUint16(&g) {
				return decodeErrorf("client_hello: malformed supported_groups entry")
			}
			m.SupportedGroups = append(m.SupportedGroups, NamedGroup(g))
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in supported_groups")
		}
	case ExtensionKeyShare:
		var shares cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&shares) {
			return decodeErrorf("client_hello: malformed key_share")
		}
		for !shares.Empty() {
			var group uint16
			var ke cryptobyte.String
			if !shares.ReadUint16(&group) || !shares.ReadUint16LengthPrefixed(&ke) {
				return decodeErrorf("client_hello: malformed key_share entry")
			}
			m.KeyShares = append(m.KeyShares, keyShareEntryWire{Group: NamedGroup(group), Data: []byte(ke)})
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in key_share")
		}
	case ExtensionSignatureAlgorithms:
		var algos cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&algos) {
			return decodeErrorf("client_hello: malformed signature_algorithms")
		}
		for !algos.Empty() {
			var sa uint16
			if !algos.ReadUint16(&sa) {
				return decodeErrorf("client_hello: malformed signature_algorithms entry")
			}
			m.SignatureAlgorithms = append(m.SignatureAlgorithms, SignatureScheme(sa))
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in signature_algorithms")
		}
	case ExtensionServerName:
		var list cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&list) {
			return decodeErrorf("client_hello: malformed server_name")
		}
		for !list.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
				return decodeErrorf("client_hello: malformed server_name entry")
			}
			if nameType == 0 {
				m.ServerName = string(name)
			}
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in server_name")
		}
	case ExtensionPSKKeyExchangeModes:
		var modes cryptobyte.String
		if !data.ReadUint8LengthPrefixed(&modes) {
			return decodeErrorf("client_hello: malformed psk_key_exchange_modes")
		}
		for !modes.Empty() {
			var mode uint8
			if !modes.ReadUint8(&mode) {
				return decodeErrorf("client_hello: malformed psk_key_exchange_modes entry")
			}
			m.PSKKeyExchangeModes = append(m.PSKKeyExchangeModes, PSKKeyExchangeMode(mode))
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in psk_key_exchange_modes")
		}
	case ExtensionRecordSizeLimit:
		var limit uint16
		if !data.ReadUint16(&limit) {
			return decodeErrorf("client_hello: malformed record_size_limit")
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in record_size_limit")
		}
		m.RecordSizeLimit = limit
	case ExtensionALPN:
		var list cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&list) {
			return decodeErrorf("client_hello: malformed alpn")
		}
		for !list.Empty() {
			var proto cryptobyte.String
			if !list.ReadUint8LengthPrefixed(&proto) {
				return decodeErrorf("client_hello: malformed alpn entry")
			}
			m.ALPNProtocols = append(m.ALPNProtocols, string(proto))
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in alpn")
		}
	case ExtensionEarlyData:
		if len(data) != 0 {
			return decodeErrorf("client_hello: non-empty early_data")
		}
		m.EarlyData = true
	case ExtensionCookie:
		var cookie []byte
		if !readUint16Vector(&data, &cookie) {
			return decodeErrorf("client_hello: malformed cookie")
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in cookie")
		}
		m.Cookie = cookie
	case ExtensionPreSharedKey:
		psk := &preSharedKeyClientExtension{}
		var identities cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&identities) {
			return decodeErrorf("client_hello: malformed pre_shared_key identities")
		}
		for !identities.Empty() {
			var identity []byte
			var age uint32
			if !readUint16Vector(&identities, &identity) || !identities.ReadUint32(&age) {
				return decodeErrorf("client_hello: malformed pre_shared_key identity")
			}
			psk.Identities = append(psk.Identities, pskIdentity{Identity: identity, ObfuscatedTicketAge: age})
		}
		var binders cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&binders) {
			return decodeErrorf("client_hello: malformed pre_shared_key binders")
		}
		for !binders.Empty() {
			var binder []byte
			if !readUint8Vector(&binders, &binder) {
				return decodeErrorf("client_hello: malformed pre_shared_key binder")
			}
			psk.Binders = append(psk.Binders, binder)
		}
		if len(psk.Identities) != len(psk.Binders) {
			return decodeErrorf("client_hello: identity/binder count mismatch")
		}
		if !data.Empty() {
			return decodeErrorf("client_hello: trailing bytes in pre_shared_key")
		}
		m.PreSharedKey = psk
	default:
		// Unrecognized extensions are ignored per RFC 8446 §4.1.2, not fatal.
	}
	return nil
}

func readUint8Vector(s *cryptobyte.String, out *[]byte) bool {
	var v cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&v) {
		return false
	}
	*out = []byte(v)
	return true
}

func readUint16Vector(s *cryptobyte.String, out *[]byte) bool {
	var v cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&v) {
		return false
	}
	*out = []byte(v)
	return true
}

// ServerHelloMsg also represents a HelloRetryRequest: spec.md §4.5
// identifies HRR purely by Random equaling the fixed SHA-256 sentinel.
type ServerHelloMsg struct {
	LegacyVersion           ProtocolVersion
	Random                  [32]byte
	LegacySessionIDEcho     []byte
	CipherSuite             CipherSuite
	LegacyCompressionMethod uint8

	SupportedVersion ProtocolVersion
	KeyShare         *keyShareEntryWire // present unless retrying without one (never, per spec.md §4.5)
	Cookie           []byte             // HRR only
	SelectedGroup    NamedGroup         // HRR only, carried inside key_share extension per RFC 8446 §4.1.4
	PreSharedKey     *uint16            // selected identity index, resumption only

	raw []byte
}

// IsHelloRetryRequest reports whether Random matches the HRR sentinel.
func (m *ServerHelloMsg) IsHelloRetryRequest() bool {
	return m.Random == helloRetryRequestRandom
}

func (m *ServerHelloMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(VersionTLS12)) // legacy_version always 0x0303 on the wire
	b.AddBytes(m.Random[:])
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.LegacySessionIDEcho) })
	b.AddUint16(uint16(m.CipherSuite))
	b.AddUint8(0) // legacy_compression_method always null

	isHRR := m.IsHelloRetryRequest()
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(uint16(ExtensionSupportedVersions))
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(VersionTLS13)) })

		if isHRR {
			b.AddUint16(uint16(ExtensionKeyShare))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(m.SelectedGroup)) })
			if m.Cookie != nil {
				b.AddUint16(uint16(ExtensionCookie))
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Cookie) })
				})
			}
		} else if m.KeyShare != nil {
			b.AddUint16(uint16(ExtensionKeyShare))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(uint16(m.KeyShare.Group))
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.KeyShare.Data) })
			})
		}
		if m.PreSharedKey != nil {
			b.AddUint16(uint16(ExtensionPreSharedKey))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(*m.PreSharedKey) })
		}
	})
	return b.Bytes()
}

func (m *ServerHelloMsg) Unmarshal(data []byte) error {
	m.raw = append([]byte(nil), data...)
	s := cryptobyte.String(data)

	var version uint16
	if !s.ReadUint16(&version) {
		return decodeErrorf("server_hello: truncated legacy_version")
	}
	m.LegacyVersion = ProtocolVersion(version)

	var random []byte
	if !s.ReadBytes(&random, 32) {
		return decodeErrorf("server_hello: truncated random")
	}
	copy(m.Random[:], random)

	if !readUint8Vector(&s, &m.LegacySessionIDEcho) {
		return decodeErrorf("server_hello: truncated legacy_session_id_echo")
	}

	var cs uint16
	if !s.ReadUint16(&cs) {
		return decodeErrorf("server_hello: truncated cipher_suite")
	}
	m.CipherSuite = CipherSuite(cs)

	var compression uint8
	if !s.ReadUint8(&compression) {
		return decodeErrorf("server_hello: truncated legacy_compression_method")
	}
	m.LegacyCompressionMethod = compression

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return decodeErrorf("server_hello: trailing bytes after extensions")
	}

	isHRR := m.IsHelloRetryRequest()
	seen := map[ExtensionType]bool{}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return decodeErrorf("server_hello: malformed extension header")
		}
		et := ExtensionType(extType)
		if seen[et] {
			return illegalParameterf("server_hello: duplicate extension %d", extType)
		}
		seen[et] = true

		switch et {
		case ExtensionSupportedVersions:
			var v uint16
			if !extData.ReadUint16(&v) {
				return decodeErrorf("server_hello: malformed supported_versions")
			}
			if !extData.Empty() {
				return decodeErrorf("server_hello: trailing bytes in supported_versions")
			}
			m.SupportedVersion = ProtocolVersion(v)
		case ExtensionKeyShare:
			if isHRR {
				var group uint16
				if !extData.ReadUint16(&group) {
					return decodeErrorf("hello_retry_request: malformed key_share")
				}
				if !extData.Empty() {
					return decodeErrorf("hello_retry_request: trailing bytes in key_share")
				}
				m.SelectedGroup = NamedGroup(group)
			} else {
				var group uint16
				var ke cryptobyte.String
				if !extData.ReadUint16(&group) || !extData.ReadUint16LengthPrefixed(&ke) {
					return decodeErrorf("server_hello: malformed key_share")
				}
				if !extData.Empty() {
					return decodeErrorf("server_hello: trailing bytes in key_share")
				}
				m.KeyShare = &keyShareEntryWire{Group: NamedGroup(group), Data: []byte(ke)}
			}
		case ExtensionCookie:
			var cookie []byte
			if !readUint16Vector(&extData, &cookie) {
				return decodeErrorf("hello_retry_request: malformed cookie")
			}
			if !extData.Empty() {
				return decodeErrorf("hello_retry_request: trailing bytes in cookie")
			}
			m.Cookie = cookie
		case ExtensionPreSharedKey:
			var idx uint16
			if !extData.ReadUint16(&idx) {
				return decodeErrorf("server_hello: malformed pre_shared_key")
			}
			if !extData.Empty() {
				return decodeErrorf("server_hello: trailing bytes in pre_shared_key")
			}
			m.PreSharedKey = &idx
		default:
			// ignore
		}
	}
	return nil
}

// EncryptedExtensionsMsg carries the server's post-ServerHello extensions.
type EncryptedExtensionsMsg struct {
	ServerName      bool
	RecordSizeLimit uint16
	ALPNProtocol    string
	EarlyData       bool
	SupportedGroups []NamedGroup
}

func (m *EncryptedExtensionsMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if m.ServerName {
			b.AddUint16(uint16(ExtensionServerName))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {})
		}
		if m.RecordSizeLimit > 0 {
			b.AddUint16(uint16(ExtensionRecordSizeLimit))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(m.RecordSizeLimit) })
		}
		if m.ALPNProtocol != "" {
			b.AddUint16(uint16(ExtensionALPN))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(m.ALPNProtocol)) })
				})
			})
		}
		if m.EarlyData {
			b.AddUint16(uint16(ExtensionEarlyData))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {})
		}
		if len(m.SupportedGroups) > 0 {
			b.AddUint16(uint16(ExtensionSupportedGroups))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, g := range m.SupportedGroups {
						b.AddUint16(uint16(g))
					}
				})
			})
		}
	})
	return b.Bytes()
}

func (m *EncryptedExtensionsMsg) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return decodeErrorf("encrypted_extensions: trailing bytes")
	}
	seen := map[ExtensionType]bool{}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return decodeErrorf("encrypted_extensions: malformed extension header")
		}
		et := ExtensionType(extType)
		if seen[et] {
			return illegalParameterf("encrypted_extensions: duplicate extension %d", extType)
		}
		seen[et] = true
		switch et {
		case ExtensionServerName:
			if !extData.Empty() {
				return decodeErrorf("encrypted_extensions: trailing bytes in server_name")
			}
			m.ServerName = true
		case ExtensionRecordSizeLimit:
			var limit uint16
			if !extData.ReadUint16(&limit) {
				return decodeErrorf("encrypted_extensions: malformed record_size_limit")
			}
			if !extData.Empty() {
				return decodeErrorf("encrypted_extensions: trailing bytes in record_size_limit")
			}
			m.RecordSizeLimit = limit
		case ExtensionALPN:
			var list cryptobyte.String
			var proto cryptobyte.String
			if !extData.ReadUint16LengthPrefixed(&list) || !list.ReadUint8LengthPrefixed(&proto) || !list.Empty() {
				return decodeErrorf("encrypted_extensions: malformed alpn")
			}
			if !extData.Empty() {
				return decodeErrorf("encrypted_extensions: trailing bytes in alpn")
			}
			m.ALPNProtocol = string(proto)
		case ExtensionEarlyData:
			if !extData.Empty() {
				return decodeErrorf("encrypted_extensions: trailing bytes in early_data")
			}
			m.EarlyData = true
		case ExtensionSupportedGroups:
			var groups cryptobyte.String
			if !extData.ReadUint16LengthPrefixed(&groups) {
				return decodeErrorf("encrypted_extensions: malformed supported_groups")
			}
			for !groups.Empty() {
				var g uint16
				if !groups.ReadUint16(&g) {
					return decodeErrorf("encrypted_extensions: malformed supported_groups entry")
				}
				m.SupportedGroups = append(m.SupportedGroups, NamedGroup(g))
			}
			if !extData.Empty() {
				return decodeErrorf("encrypted_extensions: trailing bytes in supported_groups")
			}
		default:
		}
	}
	return nil
}

// CertificateEntry is one X.509 DER certificate plus its (empty, per
// spec.md scope) extensions.
type CertificateEntry struct {
	Data []byte
}

// CertificateMsg carries the server's (or client's, for mutual auth)
// certificate chain, leaf first.
type CertificateMsg struct {
	RequestContext []byte
	Chain          []CertificateEntry
}

func (m *CertificateMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.RequestContext) })
	addUint24LengthPrefixed(&b, func(b *cryptobyte.Builder) {
		for _, entry := range m.Chain {
			addUint24LengthPrefixed(b, func(b *cryptobyte.Builder) { b.AddBytes(entry.Data) })
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {}) // per-entry extensions, always empty
		}
	})
	return b.Bytes()
}

func (m *CertificateMsg) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)
	if !readUint8Vector(&s, &m.RequestContext) {
		return decodeErrorf("certificate: truncated request_context")
	}
	var chain cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&chain) || !s.Empty() {
		return decodeErrorf("certificate: trailing bytes")
	}
	for !chain.Empty() {
		var cert cryptobyte.String
		var extensions cryptobyte.String
		if !chain.ReadUint24LengthPrefixed(&cert) || !chain.ReadUint16LengthPrefixed(&extensions) {
			return decodeErrorf("certificate: malformed certificate_entry")
		}
		m.Chain = append(m.Chain, CertificateEntry{Data: []byte(cert)})
	}
	return nil
}

// CertificateVerifyMsg carries the handshake signature (spec.md §4.5).
type CertificateVerifyMsg struct {
	Algorithm SignatureScheme
	Signature []byte
}

func (m *CertificateVerifyMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(m.Algorithm))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Signature) })
	return b.Bytes()
}

func (m *CertificateVerifyMsg) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)
	var algo uint16
	if !s.ReadUint16(&algo) {
		return decodeErrorf("certificate_verify: truncated algorithm")
	}
	m.Algorithm = SignatureScheme(algo)
	if !readUint16Vector(&s, &m.Signature) || !s.Empty() {
		return decodeErrorf("certificate_verify: malformed signature")
	}
	return nil
}

// FinishedMsg carries verify_data (spec.md §4.4).
type FinishedMsg struct {
	VerifyData []byte
}

func (m *FinishedMsg) Marshal() ([]byte, error) { return append([]byte(nil), m.VerifyData...), nil }

func (m *FinishedMsg) Unmarshal(data []byte) error {
	m.VerifyData = append([]byte(nil), data...)
	return nil
}

// NewSessionTicketMsg is a post-handshake ticket offer (spec.md §3, §4.6).
type NewSessionTicketMsg struct {
	LifetimeSeconds  uint32
	AgeAdd           uint32
	Nonce            []byte
	Ticket           []byte
	MaxEarlyDataSize uint32 // 0 means the extension is absent
}

func (m *NewSessionTicketMsg) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint32(m.LifetimeSeconds)
	b.AddUint32(m.AgeAdd)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Nonce) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Ticket) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if m.MaxEarlyDataSize > 0 {
			b.AddUint16(uint16(ExtensionEarlyData))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint32(m.MaxEarlyDataSize) })
		}
	})
	return b.Bytes()
}

func (m *NewSessionTicketMsg) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)
	if !s.ReadUint32(&m.LifetimeSeconds) || !s.ReadUint32(&m.AgeAdd) {
		return decodeErrorf("new_session_ticket: truncated header")
	}
	if !readUint8Vector(&s, &m.Nonce) {
		return decodeErrorf("new_session_ticket: malformed ticket_nonce")
	}
	if !readUint16Vector(&s, &m.Ticket) {
		return decodeErrorf("new_session_ticket: malformed ticket")
	}
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return decodeErrorf("new_session_ticket: trailing bytes")
	}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return decodeErrorf("new_session_ticket: malformed extension header")
		}
		if ExtensionType(extType) == ExtensionEarlyData {
			if !extData.ReadUint32(&m.MaxEarlyDataSize) {
				return decodeErrorf("new_session_ticket: malformed early_data extension")
			}
		}
	}
	return nil
}

// KeyUpdateMsg requests (or acknowledges) a traffic-secret rotation.
type KeyUpdateMsg struct {
	RequestUpdate bool
}

func (m *KeyUpdateMsg) Marshal() ([]byte, error) {
	v := byte(0)
	if m.RequestUpdate {
		v = 1
	}
	return []byte{v}, nil
}

func (m *KeyUpdateMsg) Unmarshal(data []byte) error {
	if len(data) != 1 {
		return decodeErrorf("key_update: expected 1 byte, got %d", len(data))
	}
	switch data[0] {
	case 0:
		m.RequestUpdate = false
	case 1:
		m.RequestUpdate = true
	default:
		return illegalParameterf("key_update: invalid request_update %d", data[0])
	}
	return nil
}

// endOfEarlyDataMsg is an empty handshake message marking the end of the
// client's 0-RTT flight.
type endOfEarlyDataMsg struct{}

func (endOfEarlyDataMsg) Marshal() ([]byte, error) { return nil, nil }
func (*endOfEarlyDataMsg) Unmarshal(data []byte) error {
	if len(data) != 0 {
		return decodeErrorf("end_of_early_data: expected empty body")
	}
	return nil
}

// CertificateRequestMsg is decoded for completeness (spec.md §3 lists
// certificate_request among the handshake message types) but this module
// never sends one: mutual TLS negotiation is not among spec.md §4.5's
// named client/server flows.
type CertificateRequestMsg struct {
	Context             []byte
	SignatureAlgorithms []SignatureScheme
}

func (m *CertificateRequestMsg) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)
	if !readUint8Vector(&s, &m.Context) {
		return decodeErrorf("certificate_request: truncated context")
	}
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return decodeErrorf("certificate_request: trailing bytes")
	}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return decodeErrorf("certificate_request: malformed extension header")
		}
		if ExtensionType(extType) == ExtensionSignatureAlgorithms {
			var algos cryptobyte.String
			if !extData.ReadUint16LengthPrefixed(&algos) {
				return decodeErrorf("certificate_request: malformed signature_algorithms")
			}
			for !algos.Empty() {
				var sa uint16
				if !algos.ReadUint16(&sa) {
					return decodeErrorf("certificate_request: malformed signature_algorithms entry")
				}
				m.SignatureAlgorithms = append(m.SignatureAlgorithms, SignatureScheme(sa))
			}
		}
	}
	return nil
}
