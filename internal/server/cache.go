package server

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

// respCacheEntry stores one in-flight response's fully-encoded datagrams so a
// NACK/ACK replay resends byte-identical packets (spec §4.5: "resend must be
// deterministic — same MAC, same bytes"). v1/v2 index by resp seq directly.
// v3 keeps header and body streams apart, with the response's resp-head
// datagram duplicated at bodyDatagrams[0] so nack-body's bitmap — which
// numbers the body stream starting at the first resp-body chunk — can be
// read straight off bodyDatagrams[bit+1].
type respCacheEntry struct {
	v1v2Datagrams  [][]byte
	headerDatagrams [][]byte
	bodyDatagrams   [][]byte
	expiresAt       time.Time
}

// RespCache holds encoded response datagrams for the NACK/ACK resend window
// (spec §4.5, TTL spec.RespCacheTTLSeconds), keyed by message_id.
type RespCache struct {
	mu      sync.Mutex
	entries map[uint32]*respCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewRespCache(now func() time.Time) *RespCache {
	return &RespCache{
		entries: make(map[uint32]*respCacheEntry),
		ttl:     time.Duration(spec.RespCacheTTLSeconds) * time.Second,
		now:     now,
	}
}

func (c *RespCache) PutV1V2(messageID uint32, datagrams [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[messageID] = &respCacheEntry{v1v2Datagrams: datagrams, expiresAt: c.now().Add(c.ttl)}
}

func (c *RespCache) PutV3(messageID uint32, headerDatagrams, bodyDatagrams [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	combined := make([][]byte, 0, len(bodyDatagrams)+1)
	if len(headerDatagrams) > 0 {
		combined = append(combined, headerDatagrams[0])
	}
	combined = append(combined, bodyDatagrams...)
	c.entries[messageID] = &respCacheEntry{
		headerDatagrams: headerDatagrams,
		bodyDatagrams:   combined,
		expiresAt:       c.now().Add(c.ttl),
	}
}

func (c *RespCache) lookup(messageID uint32) (*respCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[messageID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, messageID)
		return nil, false
	}
	return e, true
}

// ResendV1V2 returns the datagrams for each missing seq in the cached resp
// stream, skipping indices out of range (a stale or malformed NACK).
func (c *RespCache) ResendV1V2(messageID uint32, missing []uint16) ([][]byte, bool) {
	e, ok := c.lookup(messageID)
	if !ok || e.v1v2Datagrams == nil {
		return nil, false
	}
	return gather(e.v1v2Datagrams, missing, 0), true
}

// ResendHeader returns the cached header-stream datagrams for each missing
// hdr_idx.
func (c *RespCache) ResendHeader(messageID uint32, missing []uint16) ([][]byte, bool) {
	e, ok := c.lookup(messageID)
	if !ok || e.headerDatagrams == nil {
		return nil, false
	}
	return gather(e.headerDatagrams, missing, 0), true
}

// ResendBody returns the cached body-stream datagrams for each missing body
// seq, offset by one since index 0 of the combined array is the resp-head
// datagram.
func (c *RespCache) ResendBody(messageID uint32, missing []uint16) ([][]byte, bool) {
	e, ok := c.lookup(messageID)
	if !ok || e.bodyDatagrams == nil {
		return nil, false
	}
	return gather(e.bodyDatagrams, missing, 1), true
}

// AckResend returns every cached v1/v2 datagram from firstLostSeq onward
// (spec §4.4: ACK replays "[first_lost_seq..end]").
func (c *RespCache) AckResend(messageID uint32, firstLostSeq uint16) ([][]byte, bool) {
	e, ok := c.lookup(messageID)
	if !ok || e.v1v2Datagrams == nil {
		return nil, false
	}
	if int(firstLostSeq) >= len(e.v1v2Datagrams) {
		return nil, true
	}
	return append([][]byte(nil), e.v1v2Datagrams[firstLostSeq:]...), true
}

func gather(datagrams [][]byte, missing []uint16, offset int) [][]byte {
	out := make([][]byte, 0, len(missing))
	for _, seq := range missing {
		idx := int(seq) + offset
		if idx < 0 || idx >= len(datagrams) {
			continue
		}
		out = append(out, datagrams[idx])
	}
	return out
}

// httpCacheEntry is one cached upstream response.
type httpCacheEntry struct {
	statusCode int
	headers    map[string]string
	body       []byte
	expiresAt  time.Time
}

// HTTPCache holds fetched responses keyed by normalized URL (spec §4.5,
// default TTL spec.HTTPCacheDefaultTTLSeconds, overridden by Cache-Control
// max-age; bypassed entirely for no-store/no-cache/private/Set-Cookie/5xx).
type HTTPCache struct {
	mu      sync.Mutex
	entries map[string]*httpCacheEntry
	now     func() time.Time
}

func NewHTTPCache(now func() time.Time) *HTTPCache {
	return &HTTPCache{entries: make(map[string]*httpCacheEntry), now: now}
}

func NormalizeURL(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), "/")
}

func (c *HTTPCache) Get(url string) (*httpCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[NormalizeURL(url)]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, NormalizeURL(url))
		return nil, false
	}
	return e, true
}

// Store inserts a response if its status and headers permit caching, returning
// whether it was stored. Eligibility (Set-Cookie, Cache-Control) must be
// checked before any header stripping happens upstream, and against
// lower-cased keys — callers (net/http's canonical Title-Case headers
// included) are not guaranteed to hand us lower-case keys already.
func (c *HTTPCache) Store(url string, statusCode int, headers map[string]string, body []byte) bool {
	if statusCode >= 500 {
		return false
	}
	lower := lowerHeaderKeys(headers)
	cc := strings.ToLower(lower["cache-control"])
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") || strings.Contains(cc, "private") {
		return false
	}
	if _, hasCookie := lower["set-cookie"]; hasCookie {
		return false
	}

	ttl := time.Duration(spec.HTTPCacheDefaultTTLSeconds) * time.Second
	if maxAge, ok := parseMaxAge(cc); ok {
		ttl = time.Duration(maxAge) * time.Second
	}
	if ttl <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[NormalizeURL(url)] = &httpCacheEntry{
		statusCode: statusCode,
		headers:    lower,
		body:       body,
		expiresAt:  c.now().Add(ttl),
	}
	return true
}

func lowerHeaderKeys(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[strings.ToLower(name)] = value
	}
	return out
}

func parseMaxAge(cacheControl string) (int, bool) {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
