package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akari-proxy/akari-udp/internal/codec"
	"github.com/akari-proxy/akari-udp/internal/config"
	"github.com/akari-proxy/akari-udp/internal/fetch"
	"github.com/akari-proxy/akari-udp/internal/spec"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Monotonic() time.Duration { return 0 }

type fakeFetcher struct {
	resp  *fetch.Response
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int) (*fetch.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testServer(t *testing.T, fetcher fetch.Fetcher) *Server {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.PSK = "correct horse battery staple"
	return New(cfg, fetcher, time.Second, testLogger(), &fakeClock{t: time.Now()})
}

var testAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}

func TestHandleReqSuccessV1(t *testing.T) {
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Headers: map[string]string{"content-type": "text/plain"}, Body: []byte("hello world")}}
	s := testServer(t, ff)

	req, err := codec.EncodeReq(s.psk, 1, 42, "GET", "http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	out := s.HandleDatagram(testAddr, req)
	if len(out) != 1 {
		t.Fatalf("expected one datagram, got %d", len(out))
	}
	pkt, err := codec.Decode(out[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != codec.KindResp || pkt.RespFirst == nil {
		t.Fatalf("expected resp first chunk, got kind %v", pkt.Kind)
	}
	if pkt.RespFirst.StatusCode != 200 {
		t.Fatalf("status code = %d", pkt.RespFirst.StatusCode)
	}
	if string(pkt.RespFirst.Chunk) != "hello world" {
		t.Fatalf("chunk = %q", pkt.RespFirst.Chunk)
	}
}

func TestHandleReqMissingURL(t *testing.T) {
	s := testServer(t, &fakeFetcher{})
	req, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "", nil)
	out := s.HandleDatagram(testAddr, req)
	pkt, err := codec.Decode(out[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != codec.KindError || pkt.Error.ErrorCode != 10 || pkt.Error.Message != "payload.url is missing" {
		t.Fatalf("expected error 10 %q, got %+v", "payload.url is missing", pkt.Error)
	}
}

// A URL that merely fails to parse (but isn't empty) is left to the
// fetcher's own InvalidURLError, not rejected at the handler layer (the
// handler only checks for an empty/missing URL).
func TestHandleReqFetcherInvalidURLMapsToError10(t *testing.T) {
	s := testServer(t, &fakeFetcher{err: &fetch.InvalidURLError{URL: "not-a-url"}})
	req, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "not-a-url", nil)
	out := s.HandleDatagram(testAddr, req)
	pkt, err := codec.Decode(out[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != codec.KindError || pkt.Error.ErrorCode != 10 {
		t.Fatalf("expected error 10, got %+v", pkt.Error)
	}
}

func TestHandleReqRequireEncryptionRejectsPlaintext(t *testing.T) {
	s := testServer(t, &fakeFetcher{})
	s.cfg.RequireEncryption = true
	req, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "http://example.com/", nil)
	out := s.HandleDatagram(testAddr, req)
	pkt, err := codec.Decode(out[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != codec.KindError || pkt.Error.ErrorCode != 254 || pkt.Error.Message != "encryption required (set E flag)" {
		t.Fatalf("expected error 254 %q, got %+v", "encryption required (set E flag)", pkt.Error)
	}
}

func TestHandleReqFetchTimeoutMapsToError20(t *testing.T) {
	s := testServer(t, &fakeFetcher{err: &fetch.TimeoutError{After: time.Second}})
	req, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "http://example.com/", nil)
	out := s.HandleDatagram(testAddr, req)
	pkt, err := codec.Decode(out[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Error.ErrorCode != 20 {
		t.Fatalf("expected error 20, got %d", pkt.Error.ErrorCode)
	}
}

func TestHandleAckReplaysFromFirstLostSeq(t *testing.T) {
	body := make([]byte, 4000)
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Body: body}}
	s := testServer(t, ff)

	req, _ := codec.EncodeReq(s.psk, 1, 7, "GET", "http://example.com/big", nil)
	sent := s.HandleDatagram(testAddr, req)
	if len(sent) < 2 {
		t.Fatalf("expected a multi-chunk response, got %d chunks", len(sent))
	}

	ack, _ := codec.EncodeAck(s.psk, 1, 7, 1)
	replay := s.HandleDatagram(testAddr, ack)
	if len(replay) != len(sent)-1 {
		t.Fatalf("expected %d replayed chunks, got %d", len(sent)-1, len(replay))
	}
}

func TestHandleNackBodyV3UsesOffsetIndex(t *testing.T) {
	body := make([]byte, 3000)
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Body: body}}
	s := testServer(t, ff)

	req, _ := codec.Encode(s.psk, codec.Packet{
		Kind:   codec.KindReq,
		Header: codec.Header{Version: 3, MessageID: 99},
		Req:    &codec.ReqPayload{Method: "GET", URL: "http://example.com/v3"},
	})
	if req == nil {
		t.Fatal("nil req")
	}
	sent := s.HandleDatagram(testAddr, req)
	if len(sent) < 2 {
		t.Fatalf("expected header+body datagrams, got %d", len(sent))
	}

	bitmap := []byte{0x01} // body seq 0 missing
	nackBody, _ := codec.EncodeNack(s.psk, 3, codec.KindNackBody, 99, bitmap)
	replay := s.HandleDatagram(testAddr, nackBody)
	if len(replay) != 1 {
		t.Fatalf("expected one replayed body datagram, got %d", len(replay))
	}
	pkt, err := codec.Decode(replay[0], s.psk)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != codec.KindRespBody || pkt.Header.Seq != 0 {
		t.Fatalf("expected resp-body seq 0, got kind=%v seq=%d", pkt.Kind, pkt.Header.Seq)
	}
}

// An AGG-flagged v3 request must get an aggregate-tag body stream: the
// terminal resp-body chunk embeds one whole-body tag that verifies over the
// concatenated plaintext body.
func TestHandleReqV3AggregateBody(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 2500)
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Body: body}}
	s := testServer(t, ff)

	req, err := codec.Encode(s.psk, codec.Packet{
		Kind:   codec.KindReq,
		Header: codec.Header{Version: 3, MessageID: 11, Flags: spec.FlagAggregate},
		Req:    &codec.ReqPayload{Method: "GET", URL: "http://example.com/agg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	sent := s.HandleDatagram(testAddr, req)
	if len(sent) < 3 {
		t.Fatalf("expected head plus multiple body datagrams, got %d", len(sent))
	}

	var assembled []byte
	var aggTag []byte
	for _, dg := range sent {
		pkt, err := codec.Decode(dg, s.psk)
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Kind != codec.KindRespBody {
			continue
		}
		if !pkt.Header.Aggregate() {
			t.Fatalf("expected AGG flag on body chunk seq %d", pkt.Header.Seq)
		}
		assembled = append(assembled, pkt.RespBody.Chunk...)
		if pkt.RespBody.AggTag != nil {
			aggTag = pkt.RespBody.AggTag
		}
	}
	if !bytes.Equal(assembled, body) {
		t.Fatalf("reassembled body mismatch: %d bytes, want %d", len(assembled), len(body))
	}
	if aggTag == nil {
		t.Fatal("expected the terminal body chunk to carry the aggregate tag")
	}
	if !codec.VerifyAggregateTag(s.psk, assembled, aggTag) {
		t.Fatal("aggregate tag does not verify over the assembled body")
	}
}
