package codec

import "fmt"

// DecodeReason enumerates why Decode failed. Every reason is non-fatal for
// the receiver: the caller logs and drops the datagram (spec §4.1, §7).
type DecodeReason uint8

const (
	ReasonShortDatagram DecodeReason = iota
	ReasonUnknownVersion
	ReasonUnknownType
	ReasonMACMismatch
	ReasonPayloadMalformed
	ReasonOversize
)

func (r DecodeReason) String() string {
	switch r {
	case ReasonShortDatagram:
		return "short_datagram"
	case ReasonUnknownVersion:
		return "unknown_version"
	case ReasonUnknownType:
		return "unknown_type"
	case ReasonMACMismatch:
		return "mac_mismatch"
	case ReasonPayloadMalformed:
		return "payload_malformed"
	case ReasonOversize:
		return "oversize"
	default:
		return "unknown_reason"
	}
}

// DecodeError is returned by Decode. Callers that need to branch on the
// failure kind should use errors.As and inspect Reason, rather than matching
// on Error()'s text.
type DecodeError struct {
	Reason DecodeReason
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func newDecodeError(reason DecodeReason, detail string) *DecodeError {
	return &DecodeError{Reason: reason, Detail: detail}
}
