package tls13

import (
	"errors"
	"fmt"
)

// AlertLevel is the first byte of an alert record.
type AlertLevel uint8

const (
	AlertLevelWarning AlertLevel = 1
	AlertLevelFatal   AlertLevel = 2
)

// AlertDescription is the second byte of an alert record.
type AlertDescription uint8

const (
	AlertCloseNotify          AlertDescription = 0
	AlertUnexpectedMessage    AlertDescription = 10
	AlertBadRecordMac         AlertDescription = 20
	AlertRecordOverflow       AlertDescription = 22
	AlertHandshakeFailure     AlertDescription = 40
	AlertBadCertificate       AlertDescription = 42
	AlertCertificateUnknown   AlertDescription = 46
	AlertIllegalParameter     AlertDescription = 47
	AlertDecodeError          AlertDescription = 50
	AlertProtocolVersion      AlertDescription = 70
	AlertInternalError        AlertDescription = 80
	AlertUserCanceled         AlertDescription = 90
	AlertMissingExtension     AlertDescription = 109
	AlertUnsupportedExtension AlertDescription = 110
)

// Alert is a two-byte TLS alert. It implements error so that the
// handshake state machine can return it directly the way
// hxzhao527-stls's alert type does (c.sendAlert2(alertInternalError)).
type Alert struct {
	Level       AlertLevel
	Description AlertDescription
}

func (a Alert) Error() string {
	return fmt.Sprintf("tls13: alert %s (level %d)", a.Description.String(), a.Level)
}

// Fatal reports whether the alert terminates the connection immediately,
// per spec.md §6 ("level fatal(2) closes the connection immediately").
func (a Alert) Fatal() bool { return a.Level == AlertLevelFatal }

// Bytes encodes the alert as its two-byte wire form.
func (a Alert) Bytes() []byte { return []byte{byte(a.Level), byte(a.Description)} }

func (d AlertDescription) String() string {
	switch d {
	case AlertCloseNotify:
		return "close_notify"
	case AlertUnexpectedMessage:
		return "unexpected_message"
	case AlertBadRecordMac:
		return "bad_record_mac"
	case AlertRecordOverflow:
		return "record_overflow"
	case AlertHandshakeFailure:
		return "handshake_failure"
	case AlertBadCertificate:
		return "bad_certificate"
	case AlertCertificateUnknown:
		return "certificate_unknown"
	case AlertIllegalParameter:
		return "illegal_parameter"
	case AlertDecodeError:
		return "decode_error"
	case AlertProtocolVersion:
		return "protocol_version"
	case AlertInternalError:
		return "internal_error"
	case AlertUserCanceled:
		return "user_canceled"
	case AlertMissingExtension:
		return "missing_extension"
	case AlertUnsupportedExtension:
		return "unsupported_extension"
	default:
		return "unknown_alert"
	}
}

// Well-known alerts, mirroring the taxonomy table in spec.md §7 and the
// literal-struct style hxzhao527-stls/shu-yusa-go-tls both use for
// constructing an alert at the call site (Alert{Level: fatal, Description: internal_error}).
var (
	alertCloseNotify          = Alert{Level: AlertLevelWarning, Description: AlertCloseNotify}
	alertUnexpectedMessage    = Alert{Level: AlertLevelFatal, Description: AlertUnexpectedMessage}
	alertBadRecordMac         = Alert{Level: AlertLevelFatal, Description: AlertBadRecordMac}
	alertRecordOverflow       = Alert{Level: AlertLevelFatal, Description: AlertRecordOverflow}
	alertHandshakeFailure     = Alert{Level: AlertLevelFatal, Description: AlertHandshakeFailure}
	alertBadCertificate       = Alert{Level: AlertLevelFatal, Description: AlertBadCertificate}
	alertCertificateUnknown   = Alert{Level: AlertLevelFatal, Description: AlertCertificateUnknown}
	alertIllegalParameter     = Alert{Level: AlertLevelFatal, Description: AlertIllegalParameter}
	alertDecodeError          = Alert{Level: AlertLevelFatal, Description: AlertDecodeError}
	alertProtocolVersion      = Alert{Level: AlertLevelFatal, Description: AlertProtocolVersion}
	alertInternalError        = Alert{Level: AlertLevelFatal, Description: AlertInternalError}
	alertUserCanceled         = Alert{Level: AlertLevelWarning, Description: AlertUserCanceled}
	alertUnsupportedExtension = Alert{Level: AlertLevelFatal, Description: AlertUnsupportedExtension}
)

// asAlert unwraps err into an Alert, defaulting to internal_error the way
// hxzhao527-stls falls back to alertInternalError for non-alert errors
// surfacing out of the record layer.
func asAlert(err error) Alert {
	var a Alert
	if errors.As(err, &a) {
		return a
	}
	return alertInternalError
}
