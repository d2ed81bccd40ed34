package server

import (
	"testing"
	"time"

	"github.com/akari-proxy/akari-udp/internal/codec"
	"github.com/akari-proxy/akari-udp/internal/fetch"
)

func TestHTTPCacheStoreHonorsNoStore(t *testing.T) {
	c := NewHTTPCache(time.Now)
	stored := c.Store("http://example.com/a", 200, map[string]string{"Cache-Control": "no-store"}, []byte("x"))
	if stored {
		t.Fatal("expected no-store response not to be cached")
	}
	if _, ok := c.Get("http://example.com/a"); ok {
		t.Fatal("expected cache miss after no-store")
	}
}

func TestHTTPCacheStoreHonorsNoCacheAndPrivate(t *testing.T) {
	c := NewHTTPCache(time.Now)
	if c.Store("http://example.com/a", 200, map[string]string{"Cache-Control": "no-cache"}, nil) {
		t.Fatal("expected no-cache response not to be cached")
	}
	if c.Store("http://example.com/b", 200, map[string]string{"Cache-Control": "private"}, nil) {
		t.Fatal("expected private response not to be cached")
	}
}

func TestHTTPCacheStoreHonorsMaxAge(t *testing.T) {
	c := NewHTTPCache(time.Now)
	stored := c.Store("http://example.com/a", 200, map[string]string{"Cache-Control": "max-age=60"}, []byte("x"))
	if !stored {
		t.Fatal("expected max-age response to be cached")
	}
	if _, ok := c.Get("http://example.com/a"); !ok {
		t.Fatal("expected cache hit within max-age window")
	}
}

func TestHTTPCacheStoreNeverCaches5xx(t *testing.T) {
	c := NewHTTPCache(time.Now)
	if c.Store("http://example.com/a", 503, map[string]string{"Cache-Control": "max-age=60"}, nil) {
		t.Fatal("expected 5xx response not to be cached regardless of directives")
	}
}

func TestHTTPCacheStoreNeverCachesSetCookie(t *testing.T) {
	c := NewHTTPCache(time.Now)
	if c.Store("http://example.com/a", 200, map[string]string{"Set-Cookie": "sid=1"}, nil) {
		t.Fatal("expected a Set-Cookie response not to be cached")
	}
	// Case must not matter: real upstream headers arrive Title-Cased.
	if c.Store("http://example.com/b", 200, map[string]string{"set-cookie": "sid=1", "cache-control": "max-age=60"}, nil) {
		t.Fatal("expected a lower-case set-cookie header to also bypass the cache")
	}
}

// TestHandleReqSetCookieResponseBypassesCache is the end-to-end regression
// this whole property guards: a response carrying Set-Cookie must not be
// served from cache on a second request for the same URL — Set-Cookie must
// survive from the fetcher down to the cache-eligibility check before it is
// stripped at wire-encode time.
func TestHandleReqSetCookieResponseBypassesCache(t *testing.T) {
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Headers: map[string]string{"set-cookie": "sid=1"}, Body: []byte("hi")}}
	s := testServer(t, ff)

	req1, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "http://example.com/cookie", nil)
	s.HandleDatagram(testAddr, req1)
	req2, _ := codec.EncodeReq(s.psk, 1, 2, "GET", "http://example.com/cookie", nil)
	s.HandleDatagram(testAddr, req2)

	if ff.calls != 2 {
		t.Fatalf("expected both requests to fetch upstream (no caching), got %d fetch(es)", ff.calls)
	}
}

// TestHandleReqCacheableResponseServesFromCache is the companion property: a
// plain cacheable response must short-circuit the second fetch.
func TestHandleReqCacheableResponseServesFromCache(t *testing.T) {
	ff := &fakeFetcher{resp: &fetch.Response{StatusCode: 200, Headers: map[string]string{"cache-control": "max-age=60"}, Body: []byte("hi")}}
	s := testServer(t, ff)

	req1, _ := codec.EncodeReq(s.psk, 1, 1, "GET", "http://example.com/cacheable", nil)
	s.HandleDatagram(testAddr, req1)
	req2, _ := codec.EncodeReq(s.psk, 1, 2, "GET", "http://example.com/cacheable", nil)
	s.HandleDatagram(testAddr, req2)

	if ff.calls != 1 {
		t.Fatalf("expected the second request to be served from cache, got %d fetch(es)", ff.calls)
	}
}
