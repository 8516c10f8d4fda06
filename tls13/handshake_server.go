package tls13

import (
	"crypto/hmac"
	"crypto/rand"
)

// serverHandshake drives the server side of spec.md §4.5's state table:
// START -> RECVD_CH -> NEGOTIATED -> WAIT_FLIGHT2 -> (WAIT_EOED) ->
// WAIT_FINISHED -> CONNECTED. Grounded directly on
// hxzhao527-stls/stls/state_tls13.go's processClientHelloPart1/2/3,
// writeHelloRetryRequest2, checkForResumption2, sendServerParameters2,
// sendServerCertificate2, sendServerFinished2, renamed to RFC 8446
// Appendix A state names and adapted from the teacher's push/Eat
// continuation style to explicit blocking recv/send against a Transport.
func (c *Conn) serverHandshake() error {
	c.log.stage("server", "START")

	c.transcript = newTranscript(nil)

	ch, chFramed, err := c.readClientHello()
	if err != nil {
		return err
	}
	c.clientRandom = ch.Random
	c.transcript.write(chFramed)

	group, clientShare, needsRetry, err := c.selectGroup(ch)
	if err != nil {
		return err
	}
	suite, err := c.selectCipherSuite(ch)
	if err != nil {
		return err
	}
	c.transcript.hash = suite.hash

	if needsRetry {
		c.log.stage("server", "hello_retry_request")
		if err := c.sendHelloRetryRequest(suite, group); err != nil {
			return err
		}
		ch2, ch2Framed, err := c.readClientHello()
		if err != nil {
			return err
		}
		c.transcript.write(ch2Framed)
		ch = ch2
		_, clientShare, needsRetry, err = c.selectGroup(ch)
		if err != nil {
			return err
		}
		if needsRetry || clientShare == nil {
			return illegalParameterf("second client_hello still missing a usable key_share")
		}
		group, err = groupByID(clientShare.Group)
		if err != nil {
			return err
		}
	}
	c.log.stage("server", "RECVD_CH")

	serverShare, err := generateKeyShare(group)
	if err != nil {
		return err
	}
	dhSecret, err := agree(group, serverShare.privateKey, clientShare.Data)
	if err != nil {
		return err
	}

	psk, selectedIdentity, ticketContents, resumed := c.tryResumption(ch, suite)
	c.resumed = resumed
	c.log.resumption(resumed)

	ks := newKeySchedule(suite, psk)
	c.ks = ks
	c.cipherSuite = suite
	c.cipherSuiteID = suite.suite

	earlyDataAccepted := false
	var clientEarlyTrafficSecret []byte
	if resumed && ch.EarlyData && c.config.AcceptEarlyData && ticketContents.MaxEarlyDataSize > 0 {
		chHash := c.transcript.sum()
		clientEarlyTrafficSecret, err = ks.clientEarlyTrafficSecret(chHash)
		if err != nil {
			return err
		}
		earlyDataAccepted = true
	}

	if err := c.sendServerHello(suite, serverShare, selectedIdentity); err != nil {
		return err
	}

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
	if err := c.record.setWriteKey(suite, serverHSSecret); err != nil {
		return err
	}

	c.log.stage("server", "NEGOTIATED")

	ee := &EncryptedExtensionsMsg{
		ServerName:      ch.ServerName != "",
		RecordSizeLimit: uint16(c.config.recordSizeLimit()),
		EarlyData:       earlyDataAccepted,
	}
	eeBody, err := ee.Marshal()
	if err != nil {
		return err
	}
	if err := c.sendHandshakeMessage(HandshakeTypeEncryptedExtensions, eeBody); err != nil {
		return err
	}
	c.usedEarlyData = earlyDataAccepted

	if !resumed {
		if err := c.sendServerCertificateAndVerify(ch); err != nil {
			return err
		}
	}

	finishHash := c.transcript.sum()
	serverVerifyData, err := ks.finishedVerifyData(serverHSSecret, finishHash)
	if err != nil {
		return err
	}
	finMsg := &FinishedMsg{VerifyData: serverVerifyData}
	finBody, _ := finMsg.Marshal()
	if err := c.sendHandshakeMessage(HandshakeTypeFinished, finBody); err != nil {
		return err
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
	c.exporterMasterSecret = exporterSecret

	// 0.5-RTT: the server may start sending application data as soon as
	// its Finished is out, before the client's Finished arrives.
	if err := c.record.setWriteKey(suite, serverAppSecret); err != nil {
		return err
	}
	c.serverAppTrafficSecret = serverAppSecret

	c.log.stage("server", "WAIT_FLIGHT2")
	if earlyDataAccepted {
		c.log.stage("server", "WAIT_EOED")
		if err := c.record.setReadKey(suite, clientEarlyTrafficSecret); err != nil {
			return err
		}
		if err := c.drainEarlyDataUntilEndOfEarlyData(); err != nil {
			return err
		}
	}
	if err := c.record.setReadKey(suite, clientHSSecret); err != nil {
		return err
	}

	c.log.stage("server", "WAIT_FINISHED")
	finBody2, finTranscriptHash, err := c.recvHandshakeMessageRaw(HandshakeTypeFinished)
	if err != nil {
		return err
	}
	clientFin := &FinishedMsg{}
	if err := clientFin.Unmarshal(finBody2); err != nil {
		return err
	}
	expected, err := ks.finishedVerifyData(clientHSSecret, finTranscriptHash)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, clientFin.VerifyData) {
		return handshakeFailuref("client Finished verify_data mismatch")
	}

	resumptionHash := c.transcript.sum()
	resumptionSecret, err := ks.resumptionMasterSecret(resumptionHash)
	if err != nil {
		return err
	}
	c.resumptionMasterSecret = resumptionSecret

	if err := c.record.setReadKey(suite, clientAppSecret); err != nil {
		return err
	}
	c.clientAppTrafficSecret = clientAppSecret
	c.handshakeComplete = true
	c.log.stage("server", "CONNECTED")
	c.log.negotiated(c.cipherSuiteID, group.group)

	if c.config.AcceptResumption {
		if err := c.IssueSessionTicket(1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readClientHello() (*ClientHelloMsg, []byte, error) {
	msgType, body, err := c.record.nextHandshakeMessage()
	if err != nil {
		return nil, nil, err
	}
	if msgType != HandshakeTypeClientHello {
		return nil, nil, unexpectedMessagef("expected client_hello, got %s", msgType)
	}
	ch := &ClientHelloMsg{}
	if err := ch.Unmarshal(body); err != nil {
		return nil, nil, err
	}
	hasTLS13 := false
	for _, v := range ch.SupportedVersions {
		if v == VersionTLS13 {
			hasTLS13 = true
		}
	}
	if !hasTLS13 {
		return nil, nil, protocolVersionf("client did not offer TLS 1.3")
	}
	return ch, marshalHandshake(HandshakeTypeClientHello, body), nil
}

// selectGroup returns the first mutually supported group that also has a
// key_share entry in the ClientHello. If the client supports a group this
// server prefers but didn't send a share for, needsRetry is true and
// group identifies what to ask for in a HelloRetryRequest.
func (c *Conn) selectGroup(ch *ClientHelloMsg) (*keyExchangeGroup, *keyShareEntryWire, bool, error) {
	for _, g := range c.config.groups() {
		for _, share := range ch.KeyShares {
			if share.Group == g {
				group, err := groupByID(g)
				if err != nil {
					return nil, nil, false, err
				}
				shareCopy := share
				return group, &shareCopy, false, nil
			}
		}
	}
	for _, g := range c.config.groups() {
		for _, offered := range ch.SupportedGroups {
			if offered == g {
				group, err := groupByID(g)
				if err != nil {
					return nil, nil, false, err
				}
				return group, nil, true, nil
			}
		}
	}
	return nil, nil, false, handshakeFailuref("no mutually supported key-exchange group")
}

func (c *Conn) selectCipherSuite(ch *ClientHelloMsg) (*cipherSuiteParams, error) {
	for _, s := range c.config.cipherSuites() {
		for _, offered := range ch.CipherSuites {
			if offered == s {
				return cipherSuiteByID(s)
			}
		}
	}
	return nil, handshakeFailuref("no mutually supported cipher suite")
}

func (c *Conn) sendHelloRetryRequest(suite *cipherSuiteParams, group *keyExchangeGroup) error {
	sh := &ServerHelloMsg{
		Random:              helloRetryRequestRandom,
		LegacySessionIDEcho: nil,
		CipherSuite:         suite.suite,
		SelectedGroup:       group.group,
	}
	body, err := sh.Marshal()
	if err != nil {
		return err
	}
	framed := marshalHandshake(HandshakeTypeServerHello, body)
	if err := c.record.writeRecord(ContentTypeHandshake, framed); err != nil {
		return err
	}
	c.transcript.rewriteForHelloRetryRequest()
	c.transcript.write(framed)
	return nil
}

// tryResumption attempts to accept a PSK the client offered, verifying
// both ticket validity and the binder over the correctly truncated
// transcript (mirroring the client's marshalClientHelloWithBinder). Only
// the first identity is considered, matching this module's one-ticket
// policy.
func (c *Conn) tryResumption(ch *ClientHelloMsg, suite *cipherSuiteParams) (psk []byte, selectedIdentity *uint16, contents *ticketContents, resumed bool) {
	if !c.config.AcceptResumption || ch.PreSharedKey == nil || len(ch.PreSharedKey.Identities) == 0 {
		return nil, nil, nil, false
	}
	identity := ch.PreSharedKey.Identities[0]
	binder := ch.PreSharedKey.Binders[0]

	tc, err := c.ticketManager.open(identity.Identity, c.config.now())
	if err != nil {
		return nil, nil, nil, false
	}
	if tc.CipherSuite != suite.suite {
		return nil, nil, nil, false
	}

	binderSectionLen := 2 + 1 + suite.hash().Size()
	fullCH, err := ch.Marshal()
	if err != nil {
		return nil, nil, nil, false
	}
	framed := marshalHandshake(HandshakeTypeClientHello, fullCH)
	if len(framed) < binderSectionLen {
		return nil, nil, nil, false
	}

	// The binder was computed over everything in the transcript before
	// this ClientHello (any HelloRetryRequest) plus this ClientHello
	// truncated to exclude its binder list. c.transcript already ends with
	// this ClientHello as received, so the clone drops it before the
	// truncated form is appended.
	partial := c.transcript.clone()
	partial.buf = partial.buf[:len(partial.buf)-(4+len(ch.raw))]
	partial.write(framed[:len(framed)-binderSectionLen])

	ks := newKeySchedule(suite, tc.ResumptionMasterSecret)
	expected, err := ks.pskBinder(partial.sum())
	if err != nil || !hmac.Equal(expected, binder) {
		return nil, nil, nil, false
	}

	idx := uint16(0)
	return tc.ResumptionMasterSecret, &idx, tc, true
}

func (c *Conn) sendServerHello(suite *cipherSuiteParams, share *keyShare, selectedIdentity *uint16) error {
	var randomBytes [32]byte
	if _, err := rand.Read(randomBytes[:]); err != nil {
		return internalErrorf("generating server random: %v", err)
	}
	c.serverRandom = randomBytes

	sh := &ServerHelloMsg{
		Random:       randomBytes,
		CipherSuite:  suite.suite,
		KeyShare:     &keyShareEntryWire{Group: share.group, Data: share.publicKey},
		PreSharedKey: selectedIdentity,
	}
	body, err := sh.Marshal()
	if err != nil {
		return err
	}
	framed := marshalHandshake(HandshakeTypeServerHello, body)
	if err := c.record.writeRecord(ContentTypeHandshake, framed); err != nil {
		return err
	}
	c.transcript.write(framed)
	return nil
}

func (c *Conn) sendServerCertificateAndVerify(ch *ClientHelloMsg) error {
	if len(c.config.Certificates) == 0 {
		return internalErrorf("no server certificate configured")
	}
	cert := c.config.Certificates[0]

	certMsg := &CertificateMsg{}
	for _, der := range cert.Chain {
		certMsg.Chain = append(certMsg.Chain, CertificateEntry{Data: der})
	}
	certBody, err := certMsg.Marshal()
	if err != nil {
		return err
	}
	if err := c.sendHandshakeMessage(HandshakeTypeCertificate, certBody); err != nil {
		return err
	}

	scheme := c.config.signatureSchemes()[0]
selectScheme:
	for _, s := range c.config.signatureSchemes() {
		for _, offered := range ch.SignatureAlgorithms {
			if s == offered {
				scheme = s
				break selectScheme
			}
		}
	}

	transcriptHash := c.transcript.sum()
	cv, err := signCertificateVerify(cert.PrivateKey, scheme, serverCertificateVerifyContext, transcriptHash)
	if err != nil {
		return err
	}
	cvBody, err := cv.Marshal()
	if err != nil {
		return err
	}
	return c.sendHandshakeMessage(HandshakeTypeCertificateVerify, cvBody)
}

// drainEarlyDataUntilEndOfEarlyData reads 0-RTT application_data records
// (appending each payload to c.earlyData, returned by ReadEarlyData) until the
// client's end_of_early_data message, per RFC 8446 §2.3.
func (c *Conn) drainEarlyDataUntilEndOfEarlyData() error {
	for {
		msgType, body, err := c.record.nextHandshakeMessageOrApplicationData()
		if err != nil {
			return err
		}
		if msgType == HandshakeTypeEndOfEarlyData {
			c.transcript.write(marshalHandshake(msgType, body))
			return nil
		}
		if msgType != 0 {
			return unexpectedMessagef("unexpected handshake message %s during early data", msgType)
		}
		c.earlyData = append(c.earlyData, body)
	}
}
