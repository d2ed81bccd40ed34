package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

var testPSK = []byte("correct horse battery staple")

func TestEncodeDecodeReqRoundTrip(t *testing.T) {
	datagram, err := EncodeReq(testPSK, spec.V2, 42, "GET", "http://example.com/a", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := Decode(datagram, testPSK)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Kind != KindReq || p.Req.URL != "http://example.com/a" || p.Req.Method != "GET" {
		t.Fatalf("round-trip mismatch: %+v", p.Req)
	}
	if p.Header.MessageID != 42 {
		t.Fatalf("message id mismatch: got %d", p.Header.MessageID)
	}
}

func TestEncodeDecodeRespFirstRoundTrip(t *testing.T) {
	hdrBlock := EncodeHeaderBlock(map[string]string{"content-type": "text/plain"})
	datagram, err := EncodeRespFirst(testPSK, spec.V2, 7, 3, 200, 1000, hdrBlock, []byte("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := Decode(datagram, testPSK)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RespFirst.StatusCode != 200 || p.RespFirst.BodyLen != 1000 || !bytes.Equal(p.RespFirst.Chunk, []byte("hello")) {
		t.Fatalf("round-trip mismatch: %+v", p.RespFirst)
	}
	headers, err := DecodeHeaderBlock(p.RespFirst.HeaderBlock)
	if err != nil {
		t.Fatalf("decode header block: %v", err)
	}
	if headers["content-type"] != "text/plain" {
		t.Fatalf("header block mismatch: %+v", headers)
	}
}

func TestEncodeDecodeRespBodyV3AggRoundTrip(t *testing.T) {
	aggTag := computeMAC(testPSK, []byte("whole-body-plaintext"))
	datagram, err := EncodeRespBodyV3(testPSK, 9, 2, 3, []byte("chunk-two"), aggTag, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := Decode(datagram, testPSK)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(p.RespBody.Chunk, []byte("chunk-two")) {
		t.Fatalf("chunk mismatch: %q", p.RespBody.Chunk)
	}
	if !bytes.Equal(p.RespBody.AggTag, aggTag) {
		t.Fatalf("agg tag mismatch")
	}
}

func TestEncodeDecodeRespBodyV3NonTerminalHasNoAggTag(t *testing.T) {
	datagram, err := EncodeRespBodyV3(testPSK, 9, 0, 3, []byte("chunk-zero"), nil, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := Decode(datagram, testPSK)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RespBody.AggTag != nil {
		t.Fatalf("expected nil agg tag on non-terminal chunk, got %x", p.RespBody.AggTag)
	}
	if !bytes.Equal(p.RespBody.Chunk, []byte("chunk-zero")) {
		t.Fatalf("chunk mismatch: %q", p.RespBody.Chunk)
	}
}

func TestMACTamperDetected(t *testing.T) {
	datagram, err := EncodeReq(testPSK, spec.V1, 1, "GET", "http://x/", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tampered := append([]byte(nil), datagram...)
	tampered[len(tampered)-1] ^= 0x01

	_, err = Decode(tampered, testPSK)
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonMACMismatch {
		t.Fatalf("expected mac_mismatch, got %v", err)
	}
}

func TestPSKIsolation(t *testing.T) {
	datagram, err := EncodeReq(testPSK, spec.V1, 1, "GET", "http://x/", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = Decode(datagram, []byte("wrong psk"))
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonMACMismatch {
		t.Fatalf("expected mac_mismatch under wrong psk, got %v", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	datagram, err := Encode(testPSK, Packet{
		Kind:   KindReq,
		Header: Header{Version: spec.V2, MessageID: 55, Flags: spec.FlagEncrypted},
		Req:    &ReqPayload{Method: "GET", URL: "http://secret/", Body: nil},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := Decode(datagram, testPSK)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Req.URL != "http://secret/" {
		t.Fatalf("round-trip mismatch: %+v", p.Req)
	}

	_, err = Decode(datagram, []byte("wrong psk"))
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonMACMismatch {
		t.Fatalf("expected mac_mismatch (aead open failure) under wrong psk, got %v", err)
	}
}

func TestShortDatagramRejected(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, testPSK)
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonShortDatagram {
		t.Fatalf("expected short_datagram, got %v", err)
	}
}

func TestUnknownVersionRejected(t *testing.T) {
	datagram, err := EncodeReq(testPSK, spec.V1, 1, "GET", "http://x/", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	datagram[2] = 9 // corrupt version byte
	_, err = Decode(datagram, testPSK)
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonUnknownVersion {
		t.Fatalf("expected unknown_version, got %v", err)
	}
}

func TestHeaderBlockCappedTruncates(t *testing.T) {
	headers := map[string]string{
		"content-type":  "text/html; charset=utf-8",
		"cache-control": "max-age=3600",
		"etag":          `"abcdef0123456789"`,
		"server":        "akari",
	}
	block, truncated := EncodeHeaderBlockCapped(headers, 30)
	if !truncated {
		t.Fatalf("expected truncation with a tight cap")
	}
	if len(block) > 30 {
		t.Fatalf("block exceeds cap: %d bytes", len(block))
	}
	decoded, err := DecodeHeaderBlock(block)
	if err != nil {
		t.Fatalf("decode truncated block: %v", err)
	}
	if decoded["content-type"] == "" {
		t.Fatalf("expected highest-priority header to survive truncation, got %+v", decoded)
	}
}

func TestHeaderBlockCappedFitsAll(t *testing.T) {
	headers := map[string]string{"content-type": "text/plain"}
	block, truncated := EncodeHeaderBlockCapped(headers, 256)
	if truncated {
		t.Fatalf("did not expect truncation with generous cap")
	}
	decoded, err := DecodeHeaderBlock(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["content-type"] != "text/plain" {
		t.Fatalf("mismatch: %+v", decoded)
	}
}
