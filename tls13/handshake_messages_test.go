package tls13

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func TestClientHelloRoundTrip(t *testing.T) {
	t.Parallel()
	ch := &ClientHelloMsg{
		LegacyVersion:            VersionTLS12,
		Random:                   [32]byte{1, 2, 3},
		LegacySessionID:          []byte{9, 9, 9},
		CipherSuites:             []CipherSuite{TLS_AES_128_GCM_SHA256, TLS_CHACHA20_POLY1305_SHA256},
		LegacyCompressionMethods: []byte{0},
		SupportedVersions:        []ProtocolVersion{VersionTLS13},
		SupportedGroups:          []NamedGroup{GroupX25519, GroupSecp256r1},
		KeyShares: []keyShareEntryWire{
			{Group: GroupX25519, Data: bytes.Repeat([]byte{0xaa}, 32)},
		},
		SignatureAlgorithms: []SignatureScheme{ECDSAWithP256AndSHA256},
		ServerName:          "example.test",
		PSKKeyExchangeModes: []PSKKeyExchangeMode{PSKKeyExchangeModePSKDHE},
		ALPNProtocols:       []string{"h2", "http/1.1"},
		RecordSizeLimit:     16384,
		EarlyData:           true,
	}

	body, err := ch.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got := &ClientHelloMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.LegacyVersion != ch.LegacyVersion {
		t.Errorf("LegacyVersion = %v, want %v", got.LegacyVersion, ch.LegacyVersion)
	}
	if got.Random != ch.Random {
		t.Errorf("Random mismatch")
	}
	if !bytes.Equal(got.LegacySessionID, ch.LegacySessionID) {
		t.Errorf("LegacySessionID mismatch")
	}
	if len(got.CipherSuites) != len(ch.CipherSuites) || got.CipherSuites[0] != ch.CipherSuites[0] {
		t.Errorf("CipherSuites mismatch: got %v want %v", got.CipherSuites, ch.CipherSuites)
	}
	if len(got.KeyShares) != 1 || got.KeyShares[0].Group != GroupX25519 || !bytes.Equal(got.KeyShares[0].Data, ch.KeyShares[0].Data) {
		t.Errorf("KeyShares mismatch")
	}
	if got.ServerName != ch.ServerName {
		t.Errorf("ServerName = %q, want %q", got.ServerName, ch.ServerName)
	}
	if len(got.ALPNProtocols) != 2 || got.ALPNProtocols[0] != "h2" || got.ALPNProtocols[1] != "http/1.1" {
		t.Errorf("ALPNProtocols mismatch: got %v", got.ALPNProtocols)
	}
	if got.RecordSizeLimit != ch.RecordSizeLimit {
		t.Errorf("RecordSizeLimit = %d, want %d", got.RecordSizeLimit, ch.RecordSizeLimit)
	}
	if !got.EarlyData {
		t.Errorf("EarlyData did not round-trip")
	}
	if len(got.PSKKeyExchangeModes) != 1 || got.PSKKeyExchangeModes[0] != PSKKeyExchangeModePSKDHE {
		t.Errorf("PSKKeyExchangeModes mismatch")
	}
}

func TestClientHelloWithPSKMustBeLastExtension(t *testing.T) {
	t.Parallel()
	ch := &ClientHelloMsg{
		LegacyVersion:            VersionTLS12,
		CipherSuites:             []CipherSuite{TLS_AES_128_GCM_SHA256},
		LegacyCompressionMethods: []byte{0},
		SupportedVersions:        []ProtocolVersion{VersionTLS13},
		Cookie:                   []byte("cookie"),
		PreSharedKey: &preSharedKeyClientExtension{
			Identities: []pskIdentity{{Identity: []byte("ticket"), ObfuscatedTicketAge: 42}},
			Binders:    [][]byte{bytes.Repeat([]byte{0}, 32)},
		},
	}
	body, err := ch.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &ClientHelloMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.PreSharedKey == nil || len(got.PreSharedKey.Identities) != 1 {
		t.Fatalf("pre_shared_key did not round-trip")
	}
	if !bytes.Equal(got.PreSharedKey.Identities[0].Identity, []byte("ticket")) {
		t.Errorf("psk identity mismatch")
	}
	if got.PreSharedKey.Identities[0].ObfuscatedTicketAge != 42 {
		t.Errorf("obfuscated_ticket_age mismatch")
	}
}

func TestClientHelloRejectsDuplicateExtension(t *testing.T) {
	t.Parallel()
	// Hand-build a minimal ClientHello body whose extensions block lists
	// supported_versions twice (type 0x002b), which Unmarshal must reject.
	var b cryptobyte.Builder
	b.AddUint16(uint16(VersionTLS12))
	b.AddBytes(make([]byte, 32))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(TLS_AES_128_GCM_SHA256)) })
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte{0}) })
	supportedVersionsExt := func(b *cryptobyte.Builder) {
		b.AddUint16(uint16(ExtensionSupportedVersions))
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(VersionTLS13)) })
		})
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		supportedVersionsExt(b)
		supportedVersionsExt(b)
	})
	body, err := b.Bytes()
	if err != nil {
		t.Fatalf("building malformed client_hello: %v", err)
	}

	bad := &ClientHelloMsg{}
	if err := bad.Unmarshal(body); err == nil {
		t.Fatalf("expected an error from a duplicated extension, got nil")
	}
}

func TestClientHelloRejectsTrailingBytesInExtension(t *testing.T) {
	t.Parallel()
	// record_size_limit's body is a single uint16; append one garbage byte
	// past it while keeping the extension's declared length honest, so the
	// outer extension-list framing accepts it and only parseExtension's
	// inner NotAllDecoded check can catch the trailing byte.
	var b cryptobyte.Builder
	b.AddUint16(uint16(VersionTLS12))
	b.AddBytes(make([]byte, 32))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(TLS_AES_128_GCM_SHA256)) })
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte{0}) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(uint16(ExtensionSupportedVersions))
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(uint16(VersionTLS13)) })
		})
		b.AddUint16(uint16(ExtensionRecordSizeLimit))
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(16384)
			b.AddBytes([]byte{0xff})
		})
	})
	body, err := b.Bytes()
	if err != nil {
		t.Fatalf("building malformed client_hello: %v", err)
	}

	bad := &ClientHelloMsg{}
	if err := bad.Unmarshal(body); err == nil {
		t.Fatalf("expected an error from trailing bytes inside record_size_limit, got nil")
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	t.Parallel()
	sh := &ServerHelloMsg{
		Random:      [32]byte{4, 5, 6},
		CipherSuite: TLS_AES_256_GCM_SHA384,
		KeyShare:    &keyShareEntryWire{Group: GroupX25519, Data: bytes.Repeat([]byte{0xbb}, 32)},
	}
	body, err := sh.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &ServerHelloMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.IsHelloRetryRequest() {
		t.Fatalf("ordinary ServerHello misidentified as HelloRetryRequest")
	}
	if got.CipherSuite != sh.CipherSuite {
		t.Errorf("CipherSuite mismatch")
	}
	if got.SupportedVersion != VersionTLS13 {
		t.Errorf("SupportedVersion = %v, want TLS 1.3", got.SupportedVersion)
	}
	if got.KeyShare == nil || got.KeyShare.Group != GroupX25519 || !bytes.Equal(got.KeyShare.Data, sh.KeyShare.Data) {
		t.Errorf("KeyShare mismatch")
	}
}

func TestServerHelloHelloRetryRequestRoundTrip(t *testing.T) {
	t.Parallel()
	hrr := &ServerHelloMsg{
		Random:        helloRetryRequestRandom,
		CipherSuite:   TLS_AES_128_GCM_SHA256,
		SelectedGroup: GroupSecp256r1,
		Cookie:        []byte("state-cookie"),
	}
	body, err := hrr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &ServerHelloMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.IsHelloRetryRequest() {
		t.Fatalf("HelloRetryRequest not recognized by its random sentinel")
	}
	if got.SelectedGroup != GroupSecp256r1 {
		t.Errorf("SelectedGroup = %v, want %v", got.SelectedGroup, GroupSecp256r1)
	}
	if !bytes.Equal(got.Cookie, hrr.Cookie) {
		t.Errorf("Cookie mismatch")
	}
}

func TestEncryptedExtensionsRoundTrip(t *testing.T) {
	t.Parallel()
	ee := &EncryptedExtensionsMsg{
		ServerName:      true,
		RecordSizeLimit: 8192,
		ALPNProtocol:    "h2",
		EarlyData:       true,
		SupportedGroups: []NamedGroup{GroupX25519},
	}
	body, err := ee.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &EncryptedExtensionsMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ServerName != ee.ServerName || got.RecordSizeLimit != ee.RecordSizeLimit ||
		got.ALPNProtocol != ee.ALPNProtocol || got.EarlyData != ee.EarlyData {
		t.Errorf("got %+v, want %+v", *got, *ee)
	}
	if len(got.SupportedGroups) != 1 || got.SupportedGroups[0] != GroupX25519 {
		t.Errorf("SupportedGroups mismatch: got %v", got.SupportedGroups)
	}
}

func TestCertificateMsgRoundTrip(t *testing.T) {
	t.Parallel()
	cm := &CertificateMsg{
		Chain: []CertificateEntry{
			{Data: []byte("leaf-der")},
			{Data: []byte("intermediate-der")},
		},
	}
	body, err := cm.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &CertificateMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Chain) != 2 || string(got.Chain[0].Data) != "leaf-der" || string(got.Chain[1].Data) != "intermediate-der" {
		t.Errorf("Chain mismatch: %+v", got.Chain)
	}
}

func TestCertificateVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	cv := &CertificateVerifyMsg{Algorithm: ECDSAWithP256AndSHA256, Signature: []byte("sig-bytes")}
	body, err := cv.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &CertificateVerifyMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Algorithm != cv.Algorithm || !bytes.Equal(got.Signature, cv.Signature) {
		t.Errorf("mismatch: got %+v", got)
	}
}

func TestFinishedRoundTrip(t *testing.T) {
	t.Parallel()
	fin := &FinishedMsg{VerifyData: bytes.Repeat([]byte{0x5}, 32)}
	body, _ := fin.Marshal()
	got := &FinishedMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(got.VerifyData, fin.VerifyData) {
		t.Errorf("VerifyData mismatch")
	}
}

func TestNewSessionTicketRoundTrip(t *testing.T) {
	t.Parallel()
	nst := &NewSessionTicketMsg{
		LifetimeSeconds:  3600,
		AgeAdd:           123456,
		Nonce:            []byte{0x01},
		Ticket:           bytes.Repeat([]byte{0xee}, 48),
		MaxEarlyDataSize: 16384,
	}
	body, err := nst.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &NewSessionTicketMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.LifetimeSeconds != nst.LifetimeSeconds {
		t.Errorf("LifetimeSeconds mismatch")
	}
	if got.AgeAdd != nst.AgeAdd {
		t.Errorf("AgeAdd mismatch")
	}
	if !bytes.Equal(got.Ticket, nst.Ticket) {
		t.Errorf("Ticket mismatch")
	}
	if got.MaxEarlyDataSize != nst.MaxEarlyDataSize {
		t.Errorf("MaxEarlyDataSize = %d, want %d", got.MaxEarlyDataSize, nst.MaxEarlyDataSize)
	}
}

func TestNewSessionTicketWithoutEarlyData(t *testing.T) {
	t.Parallel()
	nst := &NewSessionTicketMsg{LifetimeSeconds: 60, AgeAdd: 1, Nonce: []byte{0}, Ticket: []byte("t")}
	body, err := nst.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := &NewSessionTicketMsg{}
	if err := got.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.MaxEarlyDataSize != 0 {
		t.Errorf("MaxEarlyDataSize = %d, want 0 when the extension is absent", got.MaxEarlyDataSize)
	}
}

func TestKeyUpdateRoundTrip(t *testing.T) {
	t.Parallel()
	for _, want := range []bool{false, true} {
		ku := &KeyUpdateMsg{RequestUpdate: want}
		body, err := ku.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got := &KeyUpdateMsg{}
		if err := got.Unmarshal(body); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.RequestUpdate != want {
			t.Errorf("RequestUpdate = %v, want %v", got.RequestUpdate, want)
		}
	}
}

func TestEndOfEarlyDataRejectsNonEmptyBody(t *testing.T) {
	t.Parallel()
	var m endOfEarlyDataMsg
	if err := m.Unmarshal(nil); err != nil {
		t.Fatalf("empty body should decode cleanly: %v", err)
	}
	if err := m.Unmarshal([]byte{0x01}); err == nil {
		t.Fatalf("expected an error for a non-empty end_of_early_data body")
	}
}

func TestMarshalAndSplitHandshakeHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	body := []byte("hello")
	framed := marshalHandshake(HandshakeTypeFinished, body)

	msgType, gotBody, rest, err := splitHandshakeHeader(framed)
	if err != nil {
		t.Fatalf("splitHandshakeHeader: %v", err)
	}
	if msgType != HandshakeTypeFinished {
		t.Errorf("msgType = %v, want finished", msgType)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("body mismatch: got %q want %q", gotBody, body)
	}
	if len(rest) != 0 {
		t.Errorf("rest should be empty, got %d bytes", len(rest))
	}
}

func TestSplitHandshakeHeaderRejectsTruncation(t *testing.T) {
	t.Parallel()
	framed := marshalHandshake(HandshakeTypeFinished, []byte("hello"))
	if _, _, _, err := splitHandshakeHeader(framed[:len(framed)-1]); err == nil {
		t.Fatalf("expected a truncation error")
	}
}
