// Package client implements the AKARI-UDP client side: one request's
// send/wait/recover state machine (spec §4.4, §4.6), running over a shared
// Socket serialized by a mutex — the deliberate single-socket simplification
// spec §5 endorses as an alternative to one socket per in-flight request.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akari-proxy/akari-udp/internal/codec"
	"github.com/akari-proxy/akari-udp/internal/config"
	"github.com/akari-proxy/akari-udp/internal/metrics"
	"github.com/akari-proxy/akari-udp/internal/reassembler"
	"github.com/akari-proxy/akari-udp/internal/spec"
	"github.com/akari-proxy/akari-udp/internal/transport"
)

// Stats counts one request's wire activity: datagram byte totals and how
// many recovery rounds of each kind were spent (spec §4.4's Outcome
// counters).
type Stats struct {
	BytesSent      int
	BytesReceived  int
	NacksSent      int
	AcksSent       int
	RequestRetries int
	Heartbeats     int
}

// Response is the fully-reassembled result of one request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Stats      Stats
}

// ServerError wraps a decoded *error* packet (spec §3 domain error codes).
type ServerError struct {
	Code       uint8
	HTTPStatus uint16
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// ErrTimedOut is returned when the overall request timeout elapses without
// a complete response.
var ErrTimedOut = errors.New("client: request timed out")

// Client sends requests to one AKARI-UDP server over a shared socket.
type Client struct {
	cfg        config.Client
	psk        []byte
	serverAddr *net.UDPAddr
	sock       transport.Socket
	reqMu      sync.Mutex // held for a whole Do call: one request owns the socket at a time
	sendMu     sync.Mutex
	rng        transport.RNG
	clock      transport.Clock
	log        *logrus.Logger
}

func New(cfg config.Client, sock transport.Socket, serverAddr *net.UDPAddr, rng transport.RNG, clock transport.Clock, log *logrus.Logger) *Client {
	return &Client{
		cfg:        cfg,
		psk:        []byte(cfg.PSK),
		serverAddr: serverAddr,
		sock:       sock,
		rng:        rng,
		clock:      clock,
		log:        log,
	}
}

// Do sends one request and blocks until the response is fully reassembled,
// a *error* packet arrives, the overall timeout elapses, or ctx is
// cancelled.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	messageID := c.rng.MessageID()
	version := c.cfg.ProtocolVersion
	entry := c.log.WithFields(logrus.Fields{"message_id": messageID, "url": url})

	var flags uint8
	if version == spec.V3 && c.cfg.AggTag {
		flags |= spec.FlagAggregate
	}
	if c.cfg.Encrypt {
		flags |= spec.FlagEncrypted
	}
	reqDatagram, err := codec.Encode(c.psk, codec.Packet{
		Kind: codec.KindReq,
		Header: codec.Header{
			Version:   version,
			MessageID: messageID,
			Flags:     flags,
			Timestamp: uint32(c.clock.Now().Unix()),
		},
		Req: &codec.ReqPayload{Method: method, URL: url, Body: body},
	})
	if err != nil {
		return nil, fmt.Errorf("client: encoding request: %w", err)
	}

	st := newRecvState(version)
	stats := &Stats{}
	deadline := c.clock.Now().Add(c.cfg.Timeout)
	if c.cfg.Timeout <= 0 {
		deadline = time.Time{}
	}

	if err := c.send(entry, reqDatagram, stats); err != nil {
		return nil, err
	}
	firstByteReceived := false
	initialRetriesLeft := c.cfg.InitialReqRetries
	sentAt := c.clock.Now()
	lastActivity := sentAt
	heartbeatDelay := c.cfg.HeartbeatInterval

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && c.clock.Now().After(deadline) {
			return nil, ErrTimedOut
		}

		n, _, err := c.sock.RecvFrom(buf, c.cfg.SockTimeout)
		if err != nil {
			if !transport.IsTimeout(err) {
				return nil, fmt.Errorf("client: recv: %w", err)
			}
			if herr := c.maybeHeartbeat(entry, reqDatagram, &lastActivity, &heartbeatDelay, stats); herr != nil {
				return nil, herr
			}
			if rerr := c.onIdleTimeout(entry, st, messageID, version, reqDatagram,
				&firstByteReceived, &initialRetriesLeft, stats, &sentAt); rerr != nil {
				return nil, rerr
			}
			continue
		}

		pkt, err := codec.Decode(buf[:n], c.psk)
		if err != nil {
			entry.WithError(err).Debug("dropping undecodable reply")
			continue
		}
		if pkt.Header.MessageID != messageID {
			continue
		}
		lastActivity = c.clock.Now()
		stats.BytesReceived += n

		if pkt.Kind == codec.KindError {
			return nil, &ServerError{Code: pkt.Error.ErrorCode, HTTPStatus: pkt.Error.HTTPStatus, Message: pkt.Error.Message}
		}

		firstByteReceived = true
		if err := st.ingest(pkt); err != nil {
			entry.WithError(err).Warn("reassembly error")
			return nil, err
		}
		if st.complete() {
			return st.toResponse(c.psk, stats)
		}
	}
}

func (c *Client) send(entry *logrus.Entry, datagram []byte, stats *Stats) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sock.SendTo(datagram, c.serverAddr); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	stats.BytesSent += len(datagram)
	return nil
}

// maybeHeartbeat implements spec §4.6's optional proactive re-probe,
// independent of onIdleTimeout/(a): it fires whether or not a first byte has
// arrived yet, resending the original request once last_activity plus the
// current backed-off delay elapses. Each re-probe multiplies the delay by
// HeartbeatBackoff and adds uniform jitter in [0, RetryJitter), bounded by
// MaxRetries (negative means unbounded, matching MaxNackRounds/MaxAckRounds).
// Disabled entirely when HeartbeatInterval <= 0.
func (c *Client) maybeHeartbeat(entry *logrus.Entry, reqDatagram []byte, lastActivity *time.Time, delay *time.Duration, stats *Stats) error {
	if c.cfg.HeartbeatInterval <= 0 {
		return nil
	}
	if c.cfg.MaxRetries >= 0 && stats.Heartbeats >= c.cfg.MaxRetries {
		return nil
	}
	if c.clock.Now().Sub(*lastActivity) < *delay {
		return nil
	}

	stats.Heartbeats++
	metrics.ClientRetries.WithLabelValues("heartbeat").Inc()
	entry.WithField("heartbeat_count", stats.Heartbeats).Debug("proactive heartbeat re-probe")
	if err := c.send(entry, reqDatagram, stats); err != nil {
		return err
	}

	*lastActivity = c.clock.Now()
	next := time.Duration(float64(*delay) * c.cfg.HeartbeatBackoff)
	if c.cfg.RetryJitter > 0 {
		next += time.Duration(c.rng.JitterFraction() * float64(c.cfg.RetryJitter))
	}
	*delay = next
	return nil
}

// onIdleTimeout implements the priority order spec §4.6 lays out for a
// SockTimeout poll that returned nothing: (a) still waiting for the very
// first byte, and at least FirstSeqTimeout has elapsed since the request (or
// last retry) was sent — resend the whole request; (b) v3 header stream
// incomplete — NACK-HEAD; (c) v3 body or v2 combined stream incomplete —
// NACK-BODY / NACK, or a v2 ACK-first-gap (v1 has neither, so a v1 request
// only waits); (d) recovery budgets exhausted — fall
// through and let the caller's overall-deadline check decide; (e) otherwise
// keep polling. It only ever returns a non-nil error on an encode/send
// failure; timing out is reported by the caller's own deadline check, not
// from here.
func (c *Client) onIdleTimeout(entry *logrus.Entry, st *recvState, messageID uint32, version uint8, reqDatagram []byte,
	firstByteReceived *bool, initialRetriesLeft *int, stats *Stats, sentAt *time.Time) error {

	if !*firstByteReceived {
		dueByFirstSeqTimeout := c.cfg.FirstSeqTimeout <= 0 || c.clock.Now().Sub(*sentAt) >= c.cfg.FirstSeqTimeout
		if *initialRetriesLeft > 0 && dueByFirstSeqTimeout {
			*initialRetriesLeft--
			stats.RequestRetries++
			metrics.ClientRetries.WithLabelValues("initial_retry").Inc()
			entry.Debug("initial request retry")
			if err := c.send(entry, reqDatagram, stats); err != nil {
				return err
			}
			*sentAt = c.clock.Now()
		}
		return nil
	}

	if version == spec.V3 && !st.v3.Header.Complete() {
		bitmap := st.v3.Header.Bitmap()
		if len(bitmap) > 0 {
			if c.cfg.MaxNackRounds < 0 || stats.NacksSent < c.cfg.MaxNackRounds {
				stats.NacksSent++
				dg, err := codec.EncodeNack(c.psk, version, codec.KindNackHead, messageID, bitmap)
				if err != nil {
					return err
				}
				metrics.ClientRetries.WithLabelValues("nack_head").Inc()
				return c.send(entry, dg, stats)
			}
			return nil
		}
		// Header stream size unknown (no resp-head arrived): nothing to put in
		// a header bitmap, so fall through and try to recover the body stream.
	}

	bodyStream := st.bodyStream()
	if version >= spec.V2 && bodyStream != nil && !bodyStream.Complete() {
		bitmap := bodyStream.Bitmap()
		if len(bitmap) > 0 && (c.cfg.MaxNackRounds < 0 || stats.NacksSent < c.cfg.MaxNackRounds) {
			stats.NacksSent++
			kind := codec.KindNack
			if version == spec.V3 {
				kind = codec.KindNackBody
			}
			dg, err := codec.EncodeNack(c.psk, version, kind, messageID, bitmap)
			if err != nil {
				return err
			}
			metrics.ClientRetries.WithLabelValues("nack_body").Inc()
			return c.send(entry, dg, stats)
		}
		if version == spec.V2 && (c.cfg.MaxAckRounds < 0 || stats.AcksSent < c.cfg.MaxAckRounds) {
			if first, ok := bodyStream.FirstMissing(); ok {
				stats.AcksSent++
				dg, err := codec.EncodeAck(c.psk, version, messageID, first)
				if err != nil {
					return err
				}
				metrics.ClientRetries.WithLabelValues("ack").Inc()
				return c.send(entry, dg, stats)
			}
		}
	}

	return nil
}

// recvState holds the in-progress reassembly for one request, across
// protocol versions.
type recvState struct {
	version uint8

	v1v2        *reassembler.Stream
	statusCode  uint16
	headerBlock []byte

	v3 *reassembler.V3Response
}

func newRecvState(version uint8) *recvState {
	if version == spec.V3 {
		return &recvState{version: version, v3: reassembler.NewV3Response()}
	}
	return &recvState{version: version, v1v2: reassembler.NewStream()}
}

func (s *recvState) bodyStream() *reassembler.Stream {
	if s.version == spec.V3 {
		return s.v3.Body
	}
	return s.v1v2
}

func (s *recvState) ingest(pkt *codec.Packet) error {
	switch {
	case pkt.RespFirst != nil:
		s.statusCode = pkt.RespFirst.StatusCode
		s.headerBlock = pkt.RespFirst.HeaderBlock
		return s.v1v2.Put(0, pkt.Header.SeqTotal, pkt.RespFirst.Chunk)

	case pkt.RespChunk != nil:
		return s.v1v2.Put(pkt.Header.Seq, pkt.Header.SeqTotal, pkt.RespChunk.Chunk)

	case pkt.RespHead != nil:
		s.statusCode = pkt.RespHead.StatusCode
		if err := s.v3.Header.Put(pkt.RespHead.HdrIdx, pkt.RespHead.HdrChunksTotal, pkt.RespHead.HdrChunk); err != nil {
			return err
		}
		s.v3.Body.SetTotal(pkt.RespHead.BodySeqTotal)
		return nil

	case pkt.RespHeadCont != nil:
		return s.v3.Header.Put(pkt.RespHeadCont.HdrIdx, pkt.RespHeadCont.HdrChunksTotal, pkt.RespHeadCont.HdrChunk)

	case pkt.RespBody != nil:
		if err := s.v3.Body.Put(pkt.Header.Seq, pkt.Header.SeqTotal, pkt.RespBody.Chunk); err != nil {
			return err
		}
		if pkt.Header.Aggregate() {
			s.v3.Aggregate = true
		}
		if pkt.RespBody.AggTag != nil {
			s.v3.AggTag = pkt.RespBody.AggTag
		}
		return nil

	default:
		return fmt.Errorf("client: unexpected packet with no payload")
	}
}

func (s *recvState) complete() bool {
	if s.version == spec.V3 {
		return s.v3.Complete()
	}
	return s.v1v2.Complete()
}

func (s *recvState) toResponse(psk []byte, stats *Stats) (*Response, error) {
	var body []byte
	var err error
	var headers map[string]string

	if s.version == spec.V3 {
		body, err = s.v3.Body.Assemble()
		if err != nil {
			return nil, err
		}
		if s.v3.Aggregate {
			if len(s.v3.AggTag) == 0 || !codec.VerifyAggregateTag(psk, body, s.v3.AggTag) {
				return nil, errors.New("aggregate tag mismatch")
			}
		}
		hdrBlock, herr := s.v3.Header.Assemble()
		if herr == nil {
			headers, _ = codec.DecodeHeaderBlock(hdrBlock)
		}
		return &Response{StatusCode: int(s.statusCode), Headers: headers, Body: body, Stats: *stats}, nil
	}

	body, err = s.v1v2.Assemble()
	if err != nil {
		return nil, err
	}
	if len(s.headerBlock) > 0 {
		headers, _ = codec.DecodeHeaderBlock(s.headerBlock)
	}
	return &Response{StatusCode: int(s.statusCode), Headers: headers, Body: body, Stats: *stats}, nil
}
