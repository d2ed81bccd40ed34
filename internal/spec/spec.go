// Package spec holds the wire-level constants shared by every AKARI-UDP
// package: magic bytes, protocol versions, packet type tags, flag bits,
// fixed overheads, and domain error codes. Nothing here allocates or does
// I/O — it is the vocabulary the codec, fragmenter, and handler packages
// share.
package spec

// Magic identifies an AKARI-UDP datagram before any version-specific
// parsing begins.
const Magic uint16 = 0xA6A0

// Protocol versions understood by this module. Clients pick one; servers
// accept all three.
const (
	V1 uint8 = 1
	V2 uint8 = 2
	V3 uint8 = 3
)

// Packet type tags. The wire byte for each is stable across versions; not
// every version emits every type (v1 has no NACK/ACK/header-block types).
const (
	TypeReq          uint8 = 1
	TypeResp         uint8 = 2
	TypeRespHead     uint8 = 3
	TypeRespHeadCont uint8 = 4
	TypeRespBody     uint8 = 5
	TypeNack         uint8 = 6
	TypeNackHead     uint8 = 7
	TypeNackBody     uint8 = 8
	TypeAck          uint8 = 9
	TypeError        uint8 = 10
)

// Flag bits in the header's flags byte.
const (
	FlagEncrypted uint8 = 0x80 // E: payload is AEAD-sealed
	FlagAggregate uint8 = 0x40 // AGG (v3 body): terminal chunk carries a whole-body tag
	FlagHasHeader uint8 = 0x40 // HAS_HEADER (v2 resp first chunk): header block present
)

// Fixed-size wire quantities, all in bytes.
const (
	MACSize          = 16 // truncated HMAC-SHA256, or AEAD tag slice, per packet
	HeaderPrefixMax  = 24 // the fixed canonical header prefix every packet carries
	ResponseFirstHdr = 8  // status(2) + hdr_len/reserved(2) + body_len(4), v1/v2 first chunk
	ProtoOverhead    = HeaderPrefixMax + MACSize // AKARI framing budget, used for MTU sizing
	UDPIPOverhead    = 48 // worst-case IPv6 + UDP header allowance
	SafetyMargin     = 32 // slack for NIC offload / header estimation error

	// MaxDatagramCeiling is the hard ceiling on any emitted datagram,
	// regardless of configured buffer_size / payload_max.
	MaxDatagramCeiling = 1200
)

// Domain error codes carried in *error* packets (u8).
const (
	ErrInvalidURL        uint8 = 10
	ErrResponseTooLarge  uint8 = 11
	ErrTimeout           uint8 = 20
	ErrUpstreamFailure   uint8 = 30
	ErrUnsupportedPacket uint8 = 254
	ErrInternal          uint8 = 255
)

// Cache TTL defaults.
const (
	RespCacheTTLSeconds       = 5
	HTTPCacheDefaultTTLSeconds = 30
)

// StaticHeaderIDs is the 11-entry static table for header-block encoding.
// ID 0 is reserved for "unknown name" entries, which carry an explicit
// name_len+name alongside the value.
var StaticHeaderIDs = map[string]uint8{
	"content-type":     1,
	"content-length":   2,
	"cache-control":    3,
	"etag":             4,
	"last-modified":    5,
	"date":             6,
	"server":           7,
	"content-encoding": 8,
	"accept-ranges":    9,
	"set-cookie":       10,
	"location":         11,
}

// StaticHeaderNames is the inverse of StaticHeaderIDs, indexed by ID.
var StaticHeaderNames = buildStaticHeaderNames()

func buildStaticHeaderNames() map[uint8]string {
	m := make(map[uint8]string, len(StaticHeaderIDs))
	for name, id := range StaticHeaderIDs {
		m[id] = name
	}
	return m
}

// ResponseHeaderWhitelist names the only response headers the handler ever
// emits. Cookies are dropped; CSP and X-Frame-Options are stripped before
// encoding even though they are not in the static table.
var ResponseHeaderWhitelist = map[string]bool{
	"content-type":     true,
	"content-length":   true,
	"cache-control":    true,
	"etag":             true,
	"last-modified":    true,
	"date":             true,
	"server":           true,
	"content-encoding": true,
	"accept-ranges":    true,
	"location":         true,
}

// HeaderEncodePriority lists whitelisted headers in the order they are
// packed into a size-capped header block, most valuable first.
var HeaderEncodePriority = []string{
	"content-type",
	"content-length",
	"cache-control",
	"etag",
	"last-modified",
	"date",
	"server",
	"content-encoding",
	"accept-ranges",
	"location",
}

// AEAD / PSK-derivation constants, adapted from the password-based
// encryption parameters used elsewhere in this codebase's lineage: a salted
// PBKDF2 subkey derivation in front of AES-256-GCM, rather than using PSK
// bytes directly as the cipher key.
const (
	AEADNonceSize = 12
	AEADKeySize   = 32
	PBKDF2Iters   = 100_000
)
