package tls13

import (
	"bytes"
	"crypto/hmac"
	"testing"
)

func sha256Suite(t *testing.T) *cipherSuiteParams {
	t.Helper()
	s, err := cipherSuiteByID(TLS_AES_128_GCM_SHA256)
	if err != nil {
		t.Fatalf("cipherSuiteByID: %v", err)
	}
	return s
}

func TestKeyScheduleChainProducesDistinctSecrets(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	ks := newKeySchedule(suite, nil)

	dhSecret := bytes.Repeat([]byte{0x11}, 32)
	if err := ks.deriveHandshakeSecret(dhSecret); err != nil {
		t.Fatalf("deriveHandshakeSecret: %v", err)
	}

	chHash := bytes.Repeat([]byte{0x22}, suite.hash().Size())
	clientHS, err := ks.clientHandshakeTrafficSecret(chHash)
	if err != nil {
		t.Fatalf("clientHandshakeTrafficSecret: %v", err)
	}
	serverHS, err := ks.serverHandshakeTrafficSecret(chHash)
	if err != nil {
		t.Fatalf("serverHandshakeTrafficSecret: %v", err)
	}
	if bytes.Equal(clientHS, serverHS) {
		t.Fatalf("client and server handshake traffic secrets must differ")
	}

	if err := ks.deriveMasterSecret(); err != nil {
		t.Fatalf("deriveMasterSecret: %v", err)
	}
	clientApp, err := ks.clientApplicationTrafficSecret0(chHash)
	if err != nil {
		t.Fatalf("clientApplicationTrafficSecret0: %v", err)
	}
	if bytes.Equal(clientApp, clientHS) {
		t.Fatalf("application and handshake traffic secrets must differ")
	}
}

func TestFinishedVerifyDataRoundTrips(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	ks := newKeySchedule(suite, nil)
	if err := ks.deriveHandshakeSecret(bytes.Repeat([]byte{0x33}, 32)); err != nil {
		t.Fatalf("deriveHandshakeSecret: %v", err)
	}
	chHash := bytes.Repeat([]byte{0x44}, suite.hash().Size())
	baseKey, err := ks.clientHandshakeTrafficSecret(chHash)
	if err != nil {
		t.Fatalf("clientHandshakeTrafficSecret: %v", err)
	}

	transcriptHash := bytes.Repeat([]byte{0x55}, suite.hash().Size())
	a, err := ks.finishedVerifyData(baseKey, transcriptHash)
	if err != nil {
		t.Fatalf("finishedVerifyData: %v", err)
	}
	b, err := ks.finishedVerifyData(baseKey, transcriptHash)
	if err != nil {
		t.Fatalf("finishedVerifyData: %v", err)
	}
	if !hmac.Equal(a, b) {
		t.Fatalf("finishedVerifyData must be deterministic for the same inputs")
	}

	otherHash := bytes.Repeat([]byte{0x66}, suite.hash().Size())
	c, err := ks.finishedVerifyData(baseKey, otherHash)
	if err != nil {
		t.Fatalf("finishedVerifyData: %v", err)
	}
	if hmac.Equal(a, c) {
		t.Fatalf("finishedVerifyData must change with the transcript hash")
	}
}

func TestPSKBinderIsFinishedMACUnderBinderKey(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	psk := bytes.Repeat([]byte{0x77}, suite.hash().Size())
	ks := newKeySchedule(suite, psk)

	binderKey, err := ks.binderKey()
	if err != nil {
		t.Fatalf("binderKey: %v", err)
	}
	transcriptHash := bytes.Repeat([]byte{0x88}, suite.hash().Size())
	want, err := ks.finishedVerifyData(binderKey, transcriptHash)
	if err != nil {
		t.Fatalf("finishedVerifyData: %v", err)
	}
	got, err := ks.pskBinder(transcriptHash)
	if err != nil {
		t.Fatalf("pskBinder: %v", err)
	}
	if !hmac.Equal(want, got) {
		t.Fatalf("pskBinder must equal finishedVerifyData(binderKey, transcriptHash)")
	}
}

func TestNextTrafficSecretRatchetsForward(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	secret0 := bytes.Repeat([]byte{0x99}, suite.hash().Size())

	secret1, err := nextTrafficSecret(suite, secret0)
	if err != nil {
		t.Fatalf("nextTrafficSecret: %v", err)
	}
	secret2, err := nextTrafficSecret(suite, secret1)
	if err != nil {
		t.Fatalf("nextTrafficSecret: %v", err)
	}
	if bytes.Equal(secret0, secret1) || bytes.Equal(secret1, secret2) {
		t.Fatalf("each KeyUpdate ratchet step must produce a new secret")
	}
}

func TestResumptionPSKVariesByTicketNonce(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	rms := bytes.Repeat([]byte{0xaa}, suite.hash().Size())

	psk1, err := resumptionPSK(suite, rms, []byte{0x01})
	if err != nil {
		t.Fatalf("resumptionPSK: %v", err)
	}
	psk2, err := resumptionPSK(suite, rms, []byte{0x02})
	if err != nil {
		t.Fatalf("resumptionPSK: %v", err)
	}
	if bytes.Equal(psk1, psk2) {
		t.Fatalf("different ticket nonces must yield different PSKs")
	}
}

func TestExportKeyingMaterialVariesByLabelAndLength(t *testing.T) {
	t.Parallel()
	suite := sha256Suite(t)
	exporterSecret := bytes.Repeat([]byte{0xbb}, suite.hash().Size())

	a, err := exportKeyingMaterial(suite, exporterSecret, "EXPORTER-test", nil, 32)
	if err != nil {
		t.Fatalf("exportKeyingMaterial: %v", err)
	}
	b, err := exportKeyingMaterial(suite, exporterSecret, "EXPORTER-other", nil, 32)
	if err != nil {
		t.Fatalf("exportKeyingMaterial: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("different labels must yield different keying material")
	}

	c, err := exportKeyingMaterial(suite, exporterSecret, "EXPORTER-test", []byte("context"), 16)
	if err != nil {
		t.Fatalf("exportKeyingMaterial: %v", err)
	}
	if len(c) != 16 {
		t.Fatalf("got length %d, want 16", len(c))
	}
	if bytes.Equal(a[:16], c) {
		t.Fatalf("different context must yield different keying material")
	}
}
