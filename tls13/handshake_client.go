package tls13

import (
	"crypto/hmac"
	"crypto/rand"
)

// clientHandshake drives the client side of spec.md §4.5's state table:
// START -> WAIT_SH -> WAIT_EE -> WAIT_CERT_CR -> WAIT_CERT -> WAIT_CV ->
// WAIT_FINISHED -> CONNECTED, including the HelloRetryRequest detour and
// PSK-based resumption. Grounded on the *shape* of
// hxzhao527-stls/stls/state_tls13.go's per-message handler functions
// (that file only implements the server role; this mirrors its
// synchronous, one-handler-per-message-type structure for the client) and
// shu-yusa-go-tls's concrete ECDHE/Finished sequencing.
func (c *Conn) clientHandshake() error {
	c.log.stage("client", "START")

	if _, err := rand.Read(c.clientRandom[:]); err != nil {
		return internalErrorf("generating client random: %v", err)
	}

	groups := c.config.groups()
	keyShares := make(map[NamedGroup]*keyShare, 1)
	firstGroup, err := groupByID(groups[0])
	if err != nil {
		return err
	}
	ks0, err := generateKeyShare(firstGroup)
	if err != nil {
		return err
	}
	keyShares[groups[0]] = ks0

	var offeredTicket *clientTicket
	if c.config.OfferPSK {
		if t, ok := c.ticketCache.get(c.serverName, c.config.cipherSuites()); ok {
			offeredTicket = t
		}
	}

	c.transcript = newTranscript(nil) // hash func fixed once cipher suite is known; see note below
	sh, chWireForBinder, usedSuite, err := c.sendClientHelloAndAwaitServerHello(groups, keyShares, nil, offeredTicket)
	if err != nil {
		return err
	}
	_ = chWireForBinder

	c.cipherSuiteID = usedSuite.suite
	c.cipherSuite = usedSuite
	c.log.stage("client", "WAIT_SH")

	if sh.IsHelloRetryRequest() {
		c.log.stage("client", "hello_retry_request")
		if _, alreadyOffered := keyShares[sh.SelectedGroup]; !alreadyOffered {
			g, err := groupByID(sh.SelectedGroup)
			if err != nil {
				return illegalParameterf("hello_retry_request selected unsupported group %#04x", uint16(sh.SelectedGroup))
			}
			ks1, err := generateKeyShare(g)
			if err != nil {
				return err
			}
			keyShares[sh.SelectedGroup] = ks1
		}
		sh2, _, usedSuite2, err := c.sendClientHelloAndAwaitServerHello(groups, keyShares, sh.Cookie, offeredTicket)
		if err != nil {
			return err
		}
		if sh2.IsHelloRetryRequest() {
			return handshakeFailuref("server sent a second HelloRetryRequest")
		}
		sh = sh2
		c.cipherSuiteID = usedSuite2.suite
		c.cipherSuite = usedSuite2
	}

	selectedShare, ok := keyShares[sh.KeyShare.Group]
	if !ok {
		return illegalParameterf("server selected a group the client never offered: %#04x", uint16(sh.KeyShare.Group))
	}
	group, err := groupByID(sh.KeyShare.Group)
	if err != nil {
		return err
	}
	dhSecret, err := agree(group, selectedShare.privateKey, sh.KeyShare.Data)
	if err != nil {
		return err
	}

	var psk []byte
	resumed := false
	if sh.PreSharedKey != nil && offeredTicket != nil {
		psk, err = offeredTicket.psk(c.cipherSuite)
		if err != nil {
			return err
		}
		resumed = true
	}
	c.resumed = resumed
	c.log.resumption(resumed)

	ks := newKeySchedule(c.cipherSuite, psk)
	c.ks = ks
	if err := ks.deriveHandshakeSecret(dhSecret); err != nil {
		return err
	}

	chshHash := c.transcript.sum()
	clientHSSecret, err := ks.clientHandshakeTrafficSecret(chshHash)
	if err != nil {
		return err
	}
	serverHSSecret, err := ks.serverHandshakeTrafficSecret(chshHash)
	if err != nil {
		return err
	}
	c.config.writeKeyLog("SERVER_HANDSHAKE_TRAFFIC_SECRET", c.clientRandom[:], serverHSSecret)
	c.config.writeKeyLog("CLIENT_HANDSHAKE_TRAFFIC_SECRET", c.clientRandom[:], clientHSSecret)
	if err := c.record.setReadKey(c.cipherSuite, serverHSSecret); err != nil {
		return err
	}
	if err := c.record.setWriteKey(c.cipherSuite, clientHSSecret); err != nil {
		return err
	}

	c.log.stage("client", "WAIT_EE")
	eeBody, _, err := c.recvHandshakeMessageRaw(HandshakeTypeEncryptedExtensions)
	if err != nil {
		return err
	}
	ee := &EncryptedExtensionsMsg{}
	if err := ee.Unmarshal(eeBody); err != nil {
		return err
	}
	c.usedEarlyData = ee.EarlyData

	if !resumed {
		c.log.stage("client", "WAIT_CERT")
		certBody, _, err := c.recvHandshakeMessageRaw(HandshakeTypeCertificate)
		if err != nil {
			return err
		}
		certMsg := &CertificateMsg{}
		if err := certMsg.Unmarshal(certBody); err != nil {
			return err
		}
		chain, err := parseCertificateChain(certMsg)
		if err != nil {
			return err
		}
		if err := c.config.certificateVerifier().VerifyChain(chain, c.serverName); err != nil {
			return err
		}
		c.peerCertificates = chain

		c.log.stage("client", "WAIT_CV")
		cvBody, cvTranscriptHash, err := c.recvHandshakeMessageRaw(HandshakeTypeCertificateVerify)
		if err != nil {
			return err
		}
		cv := &CertificateVerifyMsg{}
		if err := cv.Unmarshal(cvBody); err != nil {
			return err
		}
		if err := verifyCertificateVerify(chain[0].PublicKey, cv.Algorithm, serverCertificateVerifyContext, cvTranscriptHash, cv.Signature); err != nil {
			return err
		}
	}

	c.log.stage("client", "WAIT_FINISHED")
	finBody, finTranscriptHash, err := c.recvHandshakeMessageRaw(HandshakeTypeFinished)
	if err != nil {
		return err
	}
	fin := &FinishedMsg{}
	if err := fin.Unmarshal(finBody); err != nil {
		return err
	}
	expected, err := ks.finishedVerifyData(serverHSSecret, finTranscriptHash)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, fin.VerifyData) {
		return handshakeFailuref("server Finished verify_data mismatch")
	}

	chshfHash := c.transcript.sum()
	if err := ks.deriveMasterSecret(); err != nil {
		return err
	}
	clientAppSecret, err := ks.clientApplicationTrafficSecret0(chshfHash)
	if err != nil {
		return err
	}
	serverAppSecret, err := ks.serverApplicationTrafficSecret0(chshfHash)
	if err != nil {
		return err
	}
	exporterSecret, err := ks.exporterMasterSecret(chshfHash)
	if err != nil {
		return err
	}
	c.config.writeKeyLog("CLIENT_TRAFFIC_SECRET_0", c.clientRandom[:], clientAppSecret)
	c.config.writeKeyLog("SERVER_TRAFFIC_SECRET_0", c.clientRandom[:], serverAppSecret)
	c.config.writeKeyLog("EXPORTER_SECRET", c.clientRandom[:], exporterSecret)
	c.exporterMasterSecret = exporterSecret

	clientFinishedVerifyData, err := ks.finishedVerifyData(clientHSSecret, chshfHash)
	if err != nil {
		return err
	}
	finMsg := &FinishedMsg{VerifyData: clientFinishedVerifyData}
	finMsgBody, _ := finMsg.Marshal()
	if err := c.sendHandshakeMessage(HandshakeTypeFinished, finMsgBody); err != nil {
		return err
	}

	resumptionHash := c.transcript.sum()
	resumptionSecret, err := ks.resumptionMasterSecret(resumptionHash)
	if err != nil {
		return err
	}
	c.resumptionMasterSecret = resumptionSecret

	if err := c.record.setReadKey(c.cipherSuite, serverAppSecret); err != nil {
		return err
	}
	if err := c.record.setWriteKey(c.cipherSuite, clientAppSecret); err != nil {
		return err
	}
	c.clientAppTrafficSecret = clientAppSecret
	c.serverAppTrafficSecret = serverAppSecret
	c.handshakeComplete = true
	c.log.stage("client", "CONNECTED")
	c.log.negotiated(c.cipherSuiteID, sh.KeyShare.Group)
	return nil
}

// sendClientHelloAndAwaitServerHello builds, sends, and transcribes one
// ClientHello (with PSK binders computed over the correct truncated
// transcript per RFC 8446 §4.2.11.2, if offeredTicket is non-nil), then
// reads back whatever ServerHello-shaped message follows. cookie is the
// HelloRetryRequest's cookie on the retry attempt (nil if it carried none);
// the retry attempt never offers early_data.
func (c *Conn) sendClientHelloAndAwaitServerHello(groups []NamedGroup, keyShares map[NamedGroup]*keyShare, cookie []byte, offeredTicket *clientTicket) (*ServerHelloMsg, []byte, *cipherSuiteParams, error) {
	ch := &ClientHelloMsg{
		LegacyVersion:            VersionTLS12,
		Random:                   c.clientRandom,
		LegacySessionID:          nil,
		CipherSuites:             c.config.cipherSuites(),
		LegacyCompressionMethods: []byte{0},
		SupportedVersions:        []ProtocolVersion{VersionTLS13},
		SupportedGroups:          groups,
		SignatureAlgorithms:      c.config.signatureSchemes(),
		ServerName:               c.serverName,
		Cookie:                   cookie,
	}
	for _, g := range groups {
		if share, ok := keyShares[g]; ok {
			ch.KeyShares = append(ch.KeyShares, keyShareEntryWire{Group: g, Data: share.publicKey})
		}
	}
	if offeredTicket != nil {
		ch.PSKKeyExchangeModes = []PSKKeyExchangeMode{PSKKeyExchangeModePSKDHE}
	}
	// The transcript is still empty only for the initial ClientHello.
	isRetry := len(c.transcript.buf) > 0
	if !isRetry && c.config.OfferEarlyData && offeredTicket != nil && offeredTicket.MaxEarlyDataSize > 0 {
		ch.EarlyData = true
	}

	var bodyBytes []byte
	var err error
	if offeredTicket == nil {
		bodyBytes, err = ch.Marshal()
		if err != nil {
			return nil, nil, nil, internalErrorf("marshaling client_hello: %v", err)
		}
	} else {
		bodyBytes, err = c.marshalClientHelloWithBinder(ch, offeredTicket)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	framed := marshalHandshake(HandshakeTypeClientHello, bodyBytes)
	if err := c.record.writeRecord(ContentTypeHandshake, framed); err != nil {
		return nil, nil, nil, err
	}
	c.transcript.write(framed)

	if cookie == nil && ch.EarlyData && c.pendingEarlyData != nil {
		if err := c.sendEarlyData(offeredTicket); err != nil {
			return nil, nil, nil, err
		}
	}

	msgType, shBody, err := c.record.nextHandshakeMessage()
	if err != nil {
		return nil, nil, nil, err
	}
	if msgType != HandshakeTypeServerHello {
		return nil, nil, nil, unexpectedMessagef("expected server_hello, got %s", msgType)
	}
	sh := &ServerHelloMsg{}
	if err := sh.Unmarshal(shBody); err != nil {
		return nil, nil, nil, err
	}

	suiteParams, err := cipherSuiteByID(sh.CipherSuite)
	if err != nil {
		return nil, nil, nil, illegalParameterf("server selected unsupported cipher suite %#04x", uint16(sh.CipherSuite))
	}
	if c.transcript.hash == nil {
		c.transcript.hash = suiteParams.hash
	}

	shFramed := marshalHandshake(HandshakeTypeServerHello, shBody)
	if sh.IsHelloRetryRequest() {
		// Replace ClientHello1 with its synthetic message_hash wrapper
		// before appending the HelloRetryRequest itself (spec.md §4.5 /
		// RFC 8446 §4.4.1).
		c.transcript.rewriteForHelloRetryRequest()
	}
	c.transcript.write(shFramed)

	return sh, framed, suiteParams, nil
}

// marshalClientHelloWithBinder implements the two-pass construction
// RFC 8446 §4.2.11.2 requires: marshal with a zero-filled binder, hash the
// message truncated to exclude the binder list, compute the real binder
// over that hash, then patch it in place (the binder's length never
// changes between passes).
func (c *Conn) marshalClientHelloWithBinder(ch *ClientHelloMsg, ticket *clientTicket) ([]byte, error) {
	suite, err := cipherSuiteByID(ticket.CipherSuite)
	if err != nil {
		return nil, err
	}
	hashSize := suite.hash().Size()

	ch.PreSharedKey = &preSharedKeyClientExtension{
		Identities: []pskIdentity{{
			Identity:            ticket.Ticket,
			ObfuscatedTicketAge: ticket.obfuscatedTicketAge(c.config.now()),
		}},
		Binders: [][]byte{make([]byte, hashSize)},
	}

	full, err := ch.Marshal()
	if err != nil {
		return nil, internalErrorf("marshaling client_hello: %v", err)
	}

	binderSectionLen := 2 + 1 + hashSize // binders-vector length prefix + one binder's length prefix + its bytes
	if len(full) < binderSectionLen {
		return nil, internalErrorf("client_hello too short to contain psk binder")
	}
	framedFull := marshalHandshake(HandshakeTypeClientHello, full)
	truncated := framedFull[:len(framedFull)-binderSectionLen]

	pskForBinder, err := ticket.psk(suite)
	if err != nil {
		return nil, err
	}
	pskSchedule := newKeySchedule(suite, pskForBinder)

	partial := c.transcript.clone()
	if partial.hash == nil {
		partial.hash = suite.hash
	}
	partial.write(truncated)
	binder, err := pskSchedule.pskBinder(partial.sum())
	if err != nil {
		return nil, err
	}

	copy(full[len(full)-hashSize:], binder)
	return full, nil
}

// sendEarlyData derives client_early_traffic_secret from offeredTicket's
// own cipher suite and the transcript hash of ClientHello1 alone (RFC 8446
// §4.2.10), switches the record layer's write key to it, and sends
// pendingEarlyData as application_data followed by EndOfEarlyData, all
// still under that early key. Only ever called for the initial
// ClientHello: a server that already sent a HelloRetryRequest has implicitly
// declined 0-RTT (spec.md §9), so the retry attempt never offers it again.
func (c *Conn) sendEarlyData(offeredTicket *clientTicket) error {
	ticketSuite, err := cipherSuiteByID(offeredTicket.CipherSuite)
	if err != nil {
		return err
	}
	psk, err := offeredTicket.psk(ticketSuite)
	if err != nil {
		return err
	}
	earlyKS := newKeySchedule(ticketSuite, psk)

	ch1 := c.transcript.clone()
	if ch1.hash == nil {
		ch1.hash = ticketSuite.hash
	}
	clientEarlyTrafficSecret, err := earlyKS.clientEarlyTrafficSecret(ch1.sum())
	if err != nil {
		return err
	}
	c.config.writeKeyLog("CLIENT_EARLY_TRAFFIC_SECRET", c.clientRandom[:], clientEarlyTrafficSecret)

	if err := c.record.setWriteKey(ticketSuite, clientEarlyTrafficSecret); err != nil {
		return err
	}
	if len(c.pendingEarlyData) > 0 {
		if err := c.record.writeRecord(ContentTypeApplicationData, c.pendingEarlyData); err != nil {
			return err
		}
	}

	eoed := endOfEarlyDataMsg{}
	eoedBody, _ := eoed.Marshal()
	framed := marshalHandshake(HandshakeTypeEndOfEarlyData, eoedBody)
	if err := c.record.writeRecord(ContentTypeHandshake, framed); err != nil {
		return err
	}
	c.transcript.write(framed)
	return nil
}
