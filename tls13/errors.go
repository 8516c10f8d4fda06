package tls13

import "fmt"

// alertError pairs a wire Alert with a human-readable Go error message,
// the way hxzhao527-stls pairs c.sendAlert2(alertX) with an accompanying
// errors.New/fmt.Errorf at each call site. Implements error via Alert's
// embedded method set plus its own Error() override so %w-wrapping and
// errors.As(&Alert{}) both work.
type alertError struct {
	Alert
	msg string
}

func (e *alertError) Error() string { return "tls13: " + e.msg }

func (e *alertError) Unwrap() error { return e.Alert }

func newAlertError(a Alert, format string, args ...any) error {
	return &alertError{Alert: a, msg: fmt.Sprintf(format, args...)}
}

func decodeErrorf(format string, args ...any) error {
	return newAlertError(alertDecodeError, format, args...)
}

func illegalParameterf(format string, args ...any) error {
	return newAlertError(alertIllegalParameter, format, args...)
}

func recordOverflowf(format string, args ...any) error {
	return newAlertError(alertRecordOverflow, format, args...)
}

func unexpectedMessagef(format string, args ...any) error {
	return newAlertError(alertUnexpectedMessage, format, args...)
}

func handshakeFailuref(format string, args ...any) error {
	return newAlertError(alertHandshakeFailure, format, args...)
}

func internalErrorf(format string, args ...any) error {
	return newAlertError(alertInternalError, format, args...)
}

func protocolVersionf(format string, args ...any) error {
	return newAlertError(alertProtocolVersion, format, args...)
}

func badCertificatef(format string, args ...any) error {
	return newAlertError(alertBadCertificate, format, args...)
}

// ErrClosed is returned by Conn methods after the connection has
// transitioned to closed/failed (spec.md §3 "the object is then inert").
var ErrClosed = fmt.Errorf("tls13: connection closed")
