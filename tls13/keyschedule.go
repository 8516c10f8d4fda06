package tls13

import (
	"crypto/hmac"
)

// keySchedule implements RFC 8446 §7.1's secret chain end to end:
// Early Secret -> Handshake Secret -> Master Secret, plus every
// Derive-Secret() branching off that chain spec.md §4.1/§4.6 names
// (traffic secrets, Finished keys, PSK binders, resumption PSKs, the
// exporter master secret). Grounded on
// shu-yusa-go-tls/tls13/client_hello_handler.go's GenerateSecrets /
// client_finished_handler.go's ApplicationTrafficKeys, generalized past
// that file's PSK-less happy path to also derive the early-secret branch
// (binders, early traffic, resumption PSKs) spec.md requires.
type keySchedule struct {
	suite *cipherSuiteParams

	earlySecret     []byte
	handshakeSecret []byte
	masterSecret    []byte
}

// newKeySchedule starts the chain at Early Secret. psk is nil for a
// non-resumed handshake (RFC 8446 substitutes a zero vector of the hash's
// length in that case, which hkdfExtract already does for a nil ikm).
func newKeySchedule(suite *cipherSuiteParams, psk []byte) *keySchedule {
	return &keySchedule{
		suite:       suite,
		earlySecret: hkdfExtract(suite.hash, nil, psk),
	}
}

// deriveHandshakeSecret advances the chain once the (EC)DHE shared secret
// is known (or, for a PSK-only mode this module does not offer, a
// zero-vector DHE input).
func (ks *keySchedule) deriveHandshakeSecret(dhSharedSecret []byte) error {
	salt, err := deriveSecret(ks.suite.hash, ks.earlySecret, "derived", emptyHash(ks.suite))
	if err != nil {
		return err
	}
	ks.handshakeSecret = hkdfExtract(ks.suite.hash, salt, dhSharedSecret)
	return nil
}

// deriveMasterSecret advances the chain to Master Secret once handshake
// traffic secrets have been derived.
func (ks *keySchedule) deriveMasterSecret() error {
	salt, err := deriveSecret(ks.suite.hash, ks.handshakeSecret, "derived", emptyHash(ks.suite))
	if err != nil {
		return err
	}
	ks.masterSecret = hkdfExtract(ks.suite.hash, salt, nil)
	return nil
}

func emptyHash(suite *cipherSuiteParams) []byte {
	h := suite.hash()
	return h.Sum(nil)
}

// binderKey derives the PSK binder key. This module only ever offers
// resumption PSKs (spec.md's Non-goals exclude external/out-of-band PSKs),
// so it always uses "res binder", never "ext binder".
func (ks *keySchedule) binderKey() ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.earlySecret, "res binder", emptyHash(ks.suite))
}

func (ks *keySchedule) clientEarlyTrafficSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.earlySecret, "c e traffic", transcriptHash)
}

func (ks *keySchedule) earlyExporterMasterSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.earlySecret, "e exp master", transcriptHash)
}

func (ks *keySchedule) clientHandshakeTrafficSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.handshakeSecret, "c hs traffic", transcriptHash)
}

func (ks *keySchedule) serverHandshakeTrafficSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.handshakeSecret, "s hs traffic", transcriptHash)
}

func (ks *keySchedule) clientApplicationTrafficSecret0(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.masterSecret, "c ap traffic", transcriptHash)
}

func (ks *keySchedule) serverApplicationTrafficSecret0(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.masterSecret, "s ap traffic", transcriptHash)
}

func (ks *keySchedule) exporterMasterSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.masterSecret, "exp master", transcriptHash)
}

func (ks *keySchedule) resumptionMasterSecret(transcriptHash []byte) ([]byte, error) {
	return deriveSecret(ks.suite.hash, ks.masterSecret, "res master", transcriptHash)
}

// finishedKey derives the MAC key for a Finished message from either
// direction's handshake traffic secret (RFC 8446 §4.4.4).
func (ks *keySchedule) finishedKey(baseKey []byte) ([]byte, error) {
	return hkdfExpandLabel(ks.suite.hash, baseKey, "finished", nil, ks.suite.hash().Size())
}

// finishedVerifyData computes verify_data = HMAC(finished_key, transcript_hash).
func (ks *keySchedule) finishedVerifyData(baseKey, transcriptHash []byte) ([]byte, error) {
	key, err := ks.finishedKey(baseKey)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(ks.suite.hash, key)
	mac.Write(transcriptHash)
	return mac.Sum(nil), nil
}

// pskBinder computes one ClientHello PSK binder over the transcript hash
// of ClientHello(...)WithoutBinders, spec.md §9's "two-pass ClientHello
// construction".
func (ks *keySchedule) pskBinder(transcriptHash []byte) ([]byte, error) {
	key, err := ks.binderKey()
	if err != nil {
		return nil, err
	}
	return ks.finishedVerifyData(key, transcriptHash)
}

// nextTrafficSecret implements KeyUpdate's traffic-secret ratchet (RFC
// 8446 §7.2): application_traffic_secret_N+1 = HKDF-Expand-Label(
// application_traffic_secret_N, "traffic upd", "", Hash.length).
func nextTrafficSecret(suite *cipherSuiteParams, secret []byte) ([]byte, error) {
	return hkdfExpandLabel(suite.hash, secret, "traffic upd", nil, suite.hash().Size())
}

// resumptionPSK derives the PSK offered with a given ticket (RFC 8446
// §4.6.1): HKDF-Expand-Label(resumption_master_secret, "resumption",
// ticket_nonce, Hash.length).
func resumptionPSK(suite *cipherSuiteParams, resumptionMasterSecret, ticketNonce []byte) ([]byte, error) {
	return hkdfExpandLabel(suite.hash, resumptionMasterSecret, "resumption", ticketNonce, suite.hash().Size())
}

// exportKeyingMaterial implements RFC 8446 §7.5's TLS-Exporter interface,
// grounded on spec.md §6's ExportKeyingMaterial operation. context may be
// nil, matching the no-context-value form.
func exportKeyingMaterial(suite *cipherSuiteParams, exporterSecret []byte, label string, context []byte, length int) ([]byte, error) {
	secret, err := deriveSecret(suite.hash, exporterSecret, label, emptyHash(suite))
	if err != nil {
		return nil, err
	}
	h := suite.hash()
	h.Write(context)
	contextHash := h.Sum(nil)
	return hkdfExpandLabel(suite.hash, secret, "exporter", contextHash, length)
}
