package tls13

import (
	"crypto/cipher"
	"encoding/binary"
)

// defaultRecordSizeLimit is the unencrypted record payload ceiling RFC 8446
// §5.1 sets absent a record_size_limit extension (spec.md §6).
const defaultRecordSizeLimit = 1 << 14

// maxCiphertextExpansion is RFC 8446 §5.2's fixed overhead allowance for
// TLSCiphertext.length above the plaintext limit: one content-type byte,
// up to 255 bytes of padding, and the AEAD tag, bounded together at 256
// bytes regardless of which cipher suite is negotiated (spec.md Invariant
// 5). This module's own seal() never pads, but readRawRecord must still
// accept padded records from any compliant peer.
const maxCiphertextExpansion = 256

// halfConn is one direction's traffic keys and sequence number, the record
// layer's half of the split hxzhao527-stls keeps as c.in/c.out. Grounded on
// stls/state.go's half-conn split, generalized to suite-parameterized
// key/iv/seq instead of the teacher's fixed AES-GCM assumption.
type halfConn struct {
	suite *cipherSuiteParams
	aead  cipher.AEAD
	iv    []byte
	seq   uint64
}

func newHalfConn(suite *cipherSuiteParams, trafficSecret []byte) (*halfConn, error) {
	key, err := hkdfExpandLabel(suite.hash, trafficSecret, "key", nil, suite.keyLen)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(suite.hash, trafficSecret, "iv", nil, suite.nonceLen)
	if err != nil {
		return nil, err
	}
	aead, err := suite.aead(key)
	if err != nil {
		return nil, internalErrorf("constructing AEAD: %v", err)
	}
	return &halfConn{suite: suite, aead: aead, iv: iv, seq: 0}, nil
}

// recordHeaderAAD builds the 5-byte additional data RFC 8446 §5.2 requires:
// the outer opaque_type (always 23 once encrypted), legacy_record_version,
// and TLSCiphertext.length.
func recordHeaderAAD(length int) []byte {
	aad := make([]byte, 5)
	aad[0] = byte(ContentTypeApplicationData)
	binary.BigEndian.PutUint16(aad[1:3], uint16(VersionTLS12))
	binary.BigEndian.PutUint16(aad[3:5], uint16(length))
	return aad
}

// seal produces one TLSInnerPlaintext-then-AEAD-seal ciphertext (spec.md
// §4.1's inner-plaintext pack: content || content_type || zero padding).
// This module never requests padding, matching the teacher's behavior.
func (hc *halfConn) seal(contentType ContentType, plaintext []byte) []byte {
	inner := make([]byte, 0, len(plaintext)+1)
	inner = append(inner, plaintext...)
	inner = append(inner, byte(contentType))

	ciphertextLen := len(inner) + hc.aead.Overhead()
	nonce := sealNonce(hc.iv, hc.seq)
	out := hc.aead.Seal(nil, nonce, inner, recordHeaderAAD(ciphertextLen))
	hc.seq++
	return out
}

// open reverses seal, recovering the inner content type by scanning for the
// last non-zero byte (spec.md §4.1's unpack, grounded on RFC 8446 §5.2).
func (hc *halfConn) open(ciphertext []byte) (ContentType, []byte, error) {
	nonce := sealNonce(hc.iv, hc.seq)
	plain, err := hc.aead.Open(nil, nonce, ciphertext, recordHeaderAAD(len(ciphertext)))
	hc.seq++
	if err != nil {
		return 0, nil, newAlertError(alertBadRecordMac, "record decryption failed: %v", err)
	}
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return 0, nil, unexpectedMessagef("inner plaintext has no content type")
	}
	return ContentType(plain[i]), plain[:i], nil
}

// recordLayer multiplexes the handshake/application-data/alert/CCS streams
// over one Transport, owning at most one read half-conn and one write
// half-conn at a time. Grounded on hxzhao527-stls/stls/state.go's Conn
// (c.in, c.out, c.rawInput) but pulled, not pushed: every read blocks on
// the Transport instead of being fed via Eat.
type recordLayer struct {
	transport Transport

	readHalf  *halfConn
	writeHalf *halfConn

	maxOutgoingPayload int
	maxIncomingPayload int

	handshakeBuf []byte
}

func newRecordLayer(t Transport) *recordLayer {
	return &recordLayer{
		transport:          t,
		maxOutgoingPayload: defaultRecordSizeLimit,
		maxIncomingPayload: defaultRecordSizeLimit,
	}
}

func (r *recordLayer) setReadKey(suite *cipherSuiteParams, secret []byte) error {
	hc, err := newHalfConn(suite, secret)
	if err != nil {
		return err
	}
	r.readHalf = hc
	return nil
}

func (r *recordLayer) setWriteKey(suite *cipherSuiteParams, secret []byte) error {
	hc, err := newHalfConn(suite, secret)
	if err != nil {
		return err
	}
	r.writeHalf = hc
	return nil
}

// setOutgoingLimit applies a peer-advertised record_size_limit (spec.md
// §6's optional extension), bounding what we may put in one record.
func (r *recordLayer) setOutgoingLimit(n int) {
	if n > 0 && n < r.maxOutgoingPayload {
		r.maxOutgoingPayload = n
	}
}

func (r *recordLayer) readRawRecord() (ContentType, []byte, error) {
	hdr := make([]byte, 5)
	if err := r.transport.ReadFull(hdr); err != nil {
		return 0, nil, err
	}
	ct := ContentType(hdr[0])
	length := int(hdr[3])<<8 | int(hdr[4])
	if length > r.maxIncomingPayload+maxCiphertextExpansion {
		return 0, nil, recordOverflowf("record exceeds size limit: %d bytes", length)
	}
	body := make([]byte, length)
	if err := r.transport.ReadFull(body); err != nil {
		return 0, nil, err
	}

	if ct == ContentTypeChangeCipherSpec {
		if len(body) != 1 || body[0] != 1 {
			return 0, nil, unexpectedMessagef("malformed change_cipher_spec")
		}
		return ct, nil, nil
	}
	if r.readHalf == nil {
		return ct, body, nil
	}
	innerType, content, err := r.readHalf.open(body)
	if err != nil {
		return 0, nil, err
	}
	return innerType, content, nil
}

// writeRecord fragments payload into maxOutgoingPayload-sized pieces and
// writes each as one TLSPlaintext (if no write key installed yet) or
// TLSCiphertext (once one is), mirroring
// hxzhao527-stls/stls/state.go's maxPayloadSizeForWrite chunking.
func (r *recordLayer) writeRecord(contentType ContentType, payload []byte) error {
	if len(payload) == 0 {
		return r.writeOneRecord(contentType, nil)
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > r.maxOutgoingPayload {
			n = r.maxOutgoingPayload
		}
		if err := r.writeOneRecord(contentType, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

func (r *recordLayer) writeOneRecord(contentType ContentType, chunk []byte) error {
	var wireType ContentType
	var body []byte
	if r.writeHalf != nil && contentType != ContentTypeChangeCipherSpec {
		wireType = ContentTypeApplicationData
		body = r.writeHalf.seal(contentType, chunk)
	} else {
		wireType = contentType
		body = chunk
	}
	hdr := make([]byte, 5, 5+len(body))
	hdr[0] = byte(wireType)
	binary.BigEndian.PutUint16(hdr[1:3], uint16(VersionTLS12))
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(body)))
	record := append(hdr, body...)
	return r.transport.WriteAll(record)
}

// writeChangeCipherSpec sends the single-byte compatibility record RFC
// 8446 §5 describes: always literal, never protected, regardless of
// whatever write key is currently installed.
func (r *recordLayer) writeChangeCipherSpec() error {
	hdr := []byte{byte(ContentTypeChangeCipherSpec), byte(VersionTLS12 >> 8), byte(VersionTLS12 & 0xff), 0, 1}
	return r.transport.WriteAll(append(hdr, 1))
}

func (r *recordLayer) writeHandshakeMessage(msgType HandshakeType, body []byte) error {
	return r.writeRecord(ContentTypeHandshake, marshalHandshake(msgType, body))
}

func tryParseHandshakeMessage(buf []byte) (msgType HandshakeType, body []byte, rest []byte, ok bool) {
	if len(buf) < 4 {
		return 0, nil, nil, false
	}
	length := int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf) < 4+length {
		return 0, nil, nil, false
	}
	return HandshakeType(buf[0]), buf[4 : 4+length], buf[4+length:], true
}

// nextHandshakeMessage returns the next complete handshake message,
// transparently skipping change_cipher_spec records and surfacing an
// incoming Alert as an error, the way every handler in
// hxzhao527-stls/stls/state_tls13.go expects exactly one message type at
// a time off the wire.
func (r *recordLayer) nextHandshakeMessage() (HandshakeType, []byte, error) {
	for {
		if msgType, body, rest, ok := tryParseHandshakeMessage(r.handshakeBuf); ok {
			r.handshakeBuf = rest
			return msgType, body, nil
		}
		ct, payload, err := r.readRawRecord()
		if err != nil {
			return 0, nil, err
		}
		switch ct {
		case ContentTypeChangeCipherSpec:
			continue
		case ContentTypeAlert:
			if len(payload) != 2 {
				return 0, nil, unexpectedMessagef("malformed alert record")
			}
			return 0, nil, Alert{Level: AlertLevel(payload[0]), Description: AlertDescription(payload[1])}
		case ContentTypeHandshake:
			r.handshakeBuf = append(r.handshakeBuf, payload...)
		default:
			return 0, nil, unexpectedMessagef("unexpected record type %s while reading handshake", ct)
		}
	}
}

// nextHandshakeMessageOrApplicationData is used only while draining 0-RTT
// data on the server: it returns either a complete handshake message
// (msgType != 0) or one application_data record's payload (msgType == 0),
// whichever comes off the wire next.
func (r *recordLayer) nextHandshakeMessageOrApplicationData() (HandshakeType, []byte, error) {
	for {
		if msgType, body, rest, ok := tryParseHandshakeMessage(r.handshakeBuf); ok {
			r.handshakeBuf = rest
			return msgType, body, nil
		}
		ct, payload, err := r.readRawRecord()
		if err != nil {
			return 0, nil, err
		}
		switch ct {
		case ContentTypeChangeCipherSpec:
			continue
		case ContentTypeApplicationData:
			return 0, payload, nil
		case ContentTypeAlert:
			if len(payload) != 2 {
				return 0, nil, unexpectedMessagef("malformed alert record")
			}
			return 0, nil, Alert{Level: AlertLevel(payload[0]), Description: AlertDescription(payload[1])}
		case ContentTypeHandshake:
			r.handshakeBuf = append(r.handshakeBuf, payload...)
		default:
			return 0, nil, unexpectedMessagef("unexpected record type %s", ct)
		}
	}
}

// readApplicationData returns the next application_data record's payload,
// used by Conn.Read once the handshake has completed. Interleaved
// post-handshake handshake records (NewSessionTicket, KeyUpdate) are
// handed to onHandshake and the loop continues, since spec.md §4.6 allows
// either peer to send these at any point after CONNECTED.
func (r *recordLayer) readApplicationData(onHandshake func(HandshakeType, []byte) error) ([]byte, error) {
	for {
		if msgType, body, rest, ok := tryParseHandshakeMessage(r.handshakeBuf); ok {
			r.handshakeBuf = rest
			if err := onHandshake(msgType, body); err != nil {
				return nil, err
			}
			continue
		}
		ct, payload, err := r.readRawRecord()
		if err != nil {
			return nil, err
		}
		switch ct {
		case ContentTypeChangeCipherSpec:
			continue
		case ContentTypeApplicationData:
			return payload, nil
		case ContentTypeAlert:
			if len(payload) != 2 {
				return nil, unexpectedMessagef("malformed alert record")
			}
			return nil, Alert{Level: AlertLevel(payload[0]), Description: AlertDescription(payload[1])}
		case ContentTypeHandshake:
			r.handshakeBuf = append(r.handshakeBuf, payload...)
		default:
			return nil, unexpectedMessagef("unexpected record type %s", ct)
		}
	}
}

func (r *recordLayer) writeAlert(a Alert) error {
	return r.writeRecord(ContentTypeAlert, a.Bytes())
}
