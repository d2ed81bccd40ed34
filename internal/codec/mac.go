package codec

import (
	"crypto/hmac"
	"crypto/sha256"
)

// computeMAC returns the truncated HMAC-SHA256(psk, data)[:16] authenticator
// (spec §4.1: "HMAC-SHA256(psk) truncated to the leading 16 bytes").
func computeMAC(psk, data []byte) []byte {
	mac := hmac.New(sha256.New, psk)
	mac.Write(data)
	full := mac.Sum(nil)
	return full[:16]
}

// ComputeAggregateTag returns the whole-body HMAC-SHA256(psk, body)[:16] tag
// embedded in the terminal chunk of a v3 AGG-mode response (spec §4.1): the
// caller (the server's v3 response builder, which holds the full plaintext
// body) computes this
// once the body is fully known and passes it to EncodeRespBodyV3 for the
// last chunk only.
func ComputeAggregateTag(psk, body []byte) []byte {
	return computeMAC(psk, body)
}

// verifyMAC reports whether tag is the correct MAC for data under psk, using
// a constant-time comparison so a forged datagram can't be distinguished by
// timing.
func verifyMAC(psk, data, tag []byte) bool {
	if len(tag) != 16 {
		return false
	}
	want := computeMAC(psk, data)
	return hmac.Equal(want, tag)
}

// VerifyAggregateTag reports whether tag is the correct whole-body tag for
// body under psk (spec §4.3: "the aggregate tag MUST additionally match
// HMAC(psk, concat_body)[0..16]; mismatch surfaces as error 'aggregate tag
// mismatch'"). The client calls this once the body stream is complete.
func VerifyAggregateTag(psk, body, tag []byte) bool {
	return verifyMAC(psk, body, tag)
}
