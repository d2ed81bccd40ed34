// Package server implements the AKARI-UDP server side: per-datagram
// dispatch, the response and HTTP caches, and upstream fetch invocation.
// One Server instance is safe for concurrent use from many goroutines, one
// per inbound datagram (spec §5: "server processes datagrams concurrently;
// shared state is cache access, which is mutex-guarded").
package server

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/akari-proxy/akari-udp/internal/codec"
	"github.com/akari-proxy/akari-udp/internal/config"
	"github.com/akari-proxy/akari-udp/internal/fetch"
	"github.com/akari-proxy/akari-udp/internal/fragmenter"
	"github.com/akari-proxy/akari-udp/internal/metrics"
	"github.com/akari-proxy/akari-udp/internal/reassembler"
	"github.com/akari-proxy/akari-udp/internal/spec"
	"github.com/akari-proxy/akari-udp/internal/transport"
)

// Server holds everything one process needs to answer AKARI-UDP requests.
type Server struct {
	cfg          config.Server
	psk          []byte
	fetcher      fetch.Fetcher
	fetchTimeout time.Duration
	respCache    *RespCache
	httpCache    *HTTPCache
	budget       fragmenter.Budget
	log          *logrus.Logger
	instanceID   uuid.UUID
	clock        transport.Clock
}

// New builds a Server. instanceID is logged once at boot and set as the
// Server header of every success response (v2 and v3 carry it in their
// header block; v1 responses and error packets have no header block), the
// same role a process-identity field plays in this codebase's other
// long-running daemons.
func New(cfg config.Server, fetcher fetch.Fetcher, fetchTimeout time.Duration, log *logrus.Logger, clock transport.Clock) *Server {
	instanceID := uuid.New()
	log.WithField("instance_id", instanceID.String()).Info("server instance id")
	return &Server{
		cfg:          cfg,
		psk:          []byte(cfg.PSK),
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		respCache:    NewRespCache(clock.Now),
		httpCache:    NewHTTPCache(clock.Now),
		budget:       fragmenter.NewBudget(cfg.BufferSize, cfg.PayloadMax),
		log:          log,
		instanceID:   instanceID,
		clock:        clock,
	}
}

// HandleDatagram decodes, authenticates, and dispatches one inbound
// datagram, returning zero or more encoded datagrams to send back to
// remote. A decode failure, or a datagram of a kind the server never
// receives, is logged and dropped (spec §7: drop-and-log is non-fatal).
func (s *Server) HandleDatagram(remote *net.UDPAddr, datagram []byte) [][]byte {
	traceID := xid.New().String()
	entry := s.log.WithFields(logrus.Fields{"trace_id": traceID, "remote": remote.String()})

	pkt, err := codec.Decode(datagram, s.psk)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("decode_error").Inc()
		entry.WithError(err).Debug("dropping undecodable datagram")
		return nil
	}
	entry = entry.WithField("message_id", pkt.Header.MessageID)
	metrics.DatagramsReceived.WithLabelValues(kindName(pkt.Kind)).Inc()

	switch pkt.Kind {
	case codec.KindReq:
		return s.handleReq(entry, remote, pkt)
	case codec.KindNack:
		return s.handleNackV1V2(entry, pkt)
	case codec.KindNackHead:
		return s.handleNackHead(entry, pkt)
	case codec.KindNackBody:
		return s.handleNackBody(entry, pkt)
	case codec.KindAck:
		return s.handleAck(entry, pkt)
	default:
		metrics.DatagramsDropped.WithLabelValues("unexpected_kind").Inc()
		entry.WithField("kind", kindName(pkt.Kind)).Debug("dropping packet kind the server never receives")
		return nil
	}
}

func (s *Server) handleReq(entry *logrus.Entry, remote *net.UDPAddr, pkt *codec.Packet) [][]byte {
	h := pkt.Header
	if s.cfg.RequireEncryption && !h.Encrypted() {
		entry.Info("rejecting unencrypted request: encryption required")
		return s.errorResponse(h, spec.ErrUnsupportedPacket, 400, "encryption required (set E flag)")
	}

	url := pkt.Req.URL
	if strings.TrimSpace(url) == "" {
		entry.Info("rejecting request: payload.url is missing")
		return s.errorResponse(h, spec.ErrInvalidURL, 400, "payload.url is missing")
	}

	if cached, ok := s.httpCache.Get(url); ok {
		metrics.HTTPCacheHits.Inc()
		entry.WithField("url", url).Debug("serving from http cache")
		return s.respondSuccess(h, remote, uint16(cached.statusCode), cached.headers, cached.body)
	}
	metrics.HTTPCacheMisses.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()
	start := s.clock.Now()
	resp, err := s.fetcher.Fetch(ctx, url, maxResponseBytes)
	metrics.FetchDuration.Observe(s.clock.Now().Sub(start).Seconds())
	if err != nil {
		return s.handleFetchError(entry, h, url, err)
	}

	s.httpCache.Store(url, resp.StatusCode, resp.Headers, resp.Body)
	return s.respondSuccess(h, remote, uint16(resp.StatusCode), resp.Headers, resp.Body)
}

// maxResponseBytes bounds upstream response size (spec §6's payload_max
// governs outbound datagram size, not upstream fetch size, so this is a
// separate, generous ceiling).
const maxResponseBytes = 8 << 20

func (s *Server) handleFetchError(entry *logrus.Entry, h codec.Header, url string, err error) [][]byte {
	switch e := err.(type) {
	case *fetch.InvalidURLError:
		metrics.FetchErrors.WithLabelValues("10").Inc()
		entry.WithField("url", url).Info("fetch: invalid url")
		return s.errorResponse(h, spec.ErrInvalidURL, 400, e.Error())
	case *fetch.BodyTooLargeError:
		metrics.FetchErrors.WithLabelValues("11").Inc()
		entry.WithField("url", url).Warn("fetch: response too large")
		return s.errorResponse(h, spec.ErrResponseTooLarge, 502, e.Error())
	case *fetch.TimeoutError:
		metrics.FetchErrors.WithLabelValues("20").Inc()
		entry.WithField("url", url).Warn("fetch: upstream timeout")
		return s.errorResponse(h, spec.ErrTimeout, 504, e.Error())
	case *fetch.UpstreamError:
		metrics.FetchErrors.WithLabelValues("30").Inc()
		entry.WithField("url", url).WithError(err).Warn("fetch: upstream failure")
		return s.errorResponse(h, spec.ErrUpstreamFailure, 502, e.Error())
	default:
		metrics.FetchErrors.WithLabelValues("255").Inc()
		entry.WithError(err).Error("fetch: unexpected error")
		return s.errorResponse(h, spec.ErrInternal, 500, "internal error")
	}
}

func (s *Server) respondSuccess(h codec.Header, remote *net.UDPAddr, statusCode uint16, headers map[string]string, body []byte) [][]byte {
	whitelisted := whitelistHeaders(headers)
	whitelisted["server"] = "akari-udp/" + s.instanceID.String()[:8]
	budget := s.budgetFor(remote)

	if h.Version < spec.V3 {
		out, truncated, err := buildV1V2(s.psk, h.Version, h.MessageID, statusCode, whitelisted, body, budget)
		if err != nil {
			s.log.WithError(err).Error("building v1/v2 response")
			return nil
		}
		if truncated {
			s.log.WithField("message_id", h.MessageID).Warn("header block truncated to fit first chunk")
		}
		s.checkDatagramSizes(h.MessageID, budget, out)
		s.respCache.PutV1V2(h.MessageID, out)
		s.countSent(len(out))
		return out
	}

	headerDatagrams, bodyDatagrams, err := buildV3(s.psk, h.MessageID, statusCode, whitelisted, body, h.Aggregate(), budget)
	if err != nil {
		s.log.WithError(err).Error("building v3 response")
		return nil
	}
	s.respCache.PutV3(h.MessageID, headerDatagrams, bodyDatagrams)
	out := make([][]byte, 0, len(headerDatagrams)+len(bodyDatagrams))
	out = append(out, headerDatagrams...)
	out = append(out, bodyDatagrams...)
	s.checkDatagramSizes(h.MessageID, budget, out)
	s.countSent(len(out))
	return out
}

// checkDatagramSizes logs any encoded datagram exceeding the computed max
// datagram size. The datagram is still sent — an MTU-sizing anomaly is a
// logging matter, not a drop (spec §4.5).
func (s *Server) checkDatagramSizes(messageID uint32, budget fragmenter.Budget, datagrams [][]byte) {
	for i, dg := range datagrams {
		if len(dg) > budget.PathMTU {
			s.log.WithFields(logrus.Fields{
				"message_id": messageID,
				"index":      i,
				"size":       len(dg),
				"max":        budget.PathMTU,
			}).Warn("datagram exceeds computed max size")
		}
	}
}

// budgetFor returns the fragmenter budget to use when building a response to
// remote, tightened by the kernel-reported path MTU when `plpmtud` is
// enabled (spec §6). A failed probe (unsupported platform, unconnected
// route) just falls back to the configured budget — PLPMTUD is a hint, not
// a guarantee (spec §9).
func (s *Server) budgetFor(remote *net.UDPAddr) fragmenter.Budget {
	if !s.cfg.PLPMTUD {
		return s.budget
	}
	mtu, err := transport.ProbePathMTU(remote)
	if err != nil || mtu <= 0 {
		return s.budget
	}
	return s.budget.WithPathMTU(mtu)
}

func (s *Server) errorResponse(h codec.Header, code uint8, httpStatus uint16, msg string) [][]byte {
	dg, err := codec.EncodeError(s.psk, h.Version, h.MessageID, code, httpStatus, msg)
	if err != nil {
		s.log.WithError(err).Error("encoding error response")
		return nil
	}
	s.countSent(1)
	return [][]byte{dg}
}

func (s *Server) handleNackV1V2(entry *logrus.Entry, pkt *codec.Packet) [][]byte {
	missing := reassembler.BitmapMissing(pkt.Bitmap.Bitmap, missingBitmapCeiling(pkt.Bitmap.Bitmap))
	datagrams, ok := s.respCache.ResendV1V2(pkt.Header.MessageID, missing)
	return s.replay(entry, ok, datagrams)
}

func (s *Server) handleNackHead(entry *logrus.Entry, pkt *codec.Packet) [][]byte {
	missing := reassembler.BitmapMissing(pkt.Bitmap.Bitmap, missingBitmapCeiling(pkt.Bitmap.Bitmap))
	datagrams, ok := s.respCache.ResendHeader(pkt.Header.MessageID, missing)
	return s.replay(entry, ok, datagrams)
}

func (s *Server) handleNackBody(entry *logrus.Entry, pkt *codec.Packet) [][]byte {
	missing := reassembler.BitmapMissing(pkt.Bitmap.Bitmap, missingBitmapCeiling(pkt.Bitmap.Bitmap))
	datagrams, ok := s.respCache.ResendBody(pkt.Header.MessageID, missing)
	return s.replay(entry, ok, datagrams)
}

func (s *Server) handleAck(entry *logrus.Entry, pkt *codec.Packet) [][]byte {
	datagrams, ok := s.respCache.AckResend(pkt.Header.MessageID, pkt.Ack.FirstLostSeq)
	return s.replay(entry, ok, datagrams)
}

func (s *Server) replay(entry *logrus.Entry, hit bool, datagrams [][]byte) [][]byte {
	if !hit {
		metrics.ResponseCacheMisses.Inc()
		entry.Debug("resend request for expired or unknown message_id")
		return nil
	}
	metrics.ResponseCacheHits.Inc()
	s.countSent(len(datagrams))
	return datagrams
}

func (s *Server) countSent(n int) {
	metrics.DatagramsSent.WithLabelValues("resp").Add(float64(n))
}

// missingBitmapCeiling recovers an upper bound on seq_total from a bitmap's
// byte length, since *nack* packets carry no explicit total: the sender
// only ever set bits within its own known total, so 8*len(bitmap) is always
// at least as large as the real total.
func missingBitmapCeiling(bitmap []byte) uint16 {
	ceiling := len(bitmap) * 8
	if ceiling > 0xFFFF {
		ceiling = 0xFFFF
	}
	return uint16(ceiling)
}

func kindName(k codec.PacketKind) string {
	switch k {
	case codec.KindReq:
		return "req"
	case codec.KindResp:
		return "resp"
	case codec.KindRespHead:
		return "resp_head"
	case codec.KindRespHeadCont:
		return "resp_head_cont"
	case codec.KindRespBody:
		return "resp_body"
	case codec.KindNack:
		return "nack"
	case codec.KindNackHead:
		return "nack_head"
	case codec.KindNackBody:
		return "nack_body"
	case codec.KindAck:
		return "ack"
	case codec.KindError:
		return "error"
	default:
		return "unknown"
	}
}
