package tls13

import "github.com/rs/zerolog"

// zerologAdapter narrows *zerolog.Logger down to the handful of call
// shapes the handshake state machines use, grounded on
// other_examples/41Baloo-TLState__tls13.go's log.Debug()/log.Warn() usage
// at stage transitions. Keeping this as a small wrapper (rather than
// passing *zerolog.Logger everywhere) keeps call sites one-liners.
type zerologAdapter struct {
	logger *zerolog.Logger
}

func newZerologAdapter(l *zerolog.Logger) *zerologAdapter {
	return &zerologAdapter{logger: l}
}

func (a *zerologAdapter) stage(role, state string) {
	a.logger.Debug().Str("role", role).Str("state", state).Msg("handshake stage")
}

func (a *zerologAdapter) negotiated(suite CipherSuite, group NamedGroup) {
	a.logger.Debug().
		Str("cipher_suite", cipherSuiteName(suite)).
		Uint16("group", uint16(group)).
		Msg("negotiated parameters")
}

func (a *zerologAdapter) alertSent(alert Alert) {
	a.logger.Warn().Str("alert", alert.Description.String()).Bool("fatal", alert.Fatal()).Msg("sent alert")
}

func (a *zerologAdapter) resumption(accepted bool) {
	a.logger.Debug().Bool("accepted", accepted).Msg("psk resumption")
}

func cipherSuiteName(s CipherSuite) string {
	switch s {
	case TLS_AES_128_GCM_SHA256:
		return "TLS_AES_128_GCM_SHA256"
	case TLS_AES_256_GCM_SHA384:
		return "TLS_AES_256_GCM_SHA384"
	case TLS_CHACHA20_POLY1305_SHA256:
		return "TLS_CHACHA20_POLY1305_SHA256"
	default:
		return "unknown"
	}
}
