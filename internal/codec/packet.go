// Package codec implements the AKARI-UDP wire format: encoding and decoding
// of every packet variant across protocol versions 1–3, HMAC authentication,
// optional AEAD encryption, and the v3 aggregate-tag body mode.
//
// Packets are modeled as one flat struct (Packet) carrying a Kind tag and a
// set of mutually-exclusive payload pointers, rather than a class hierarchy:
// decode returns the variant that matched, and each encode function is a
// free function taking exactly the fields that packet kind needs.
package codec

import "github.com/akari-proxy/akari-udp/internal/spec"

// PacketKind names the ten wire packet variants.
type PacketKind uint8

const (
	KindReq PacketKind = iota
	KindResp
	KindRespHead
	KindRespHeadCont
	KindRespBody
	KindNack
	KindNackHead
	KindNackBody
	KindAck
	KindError
)

// Header carries the fields every packet logically has, even though a given
// packet kind only uses a subset of them (spec §3: "all packet types carry
// a subset"). Timestamp is meaningful for v1/v2 only; ShortID is v3-reserved.
type Header struct {
	Version   uint8
	Type      uint8
	Flags     uint8
	MessageID uint32
	Timestamp uint32
	Seq       uint16
	SeqTotal  uint16
	ShortID   uint16
}

func (h Header) Encrypted() bool { return h.Flags&spec.FlagEncrypted != 0 }
func (h Header) Aggregate() bool { return h.Flags&spec.FlagAggregate != 0 }
func (h Header) HasHeaderBlock() bool {
	return h.Flags&spec.FlagHasHeader != 0
}

// ReqPayload is the payload of a *req* packet: an HTTP-style GET intent.
type ReqPayload struct {
	Method string
	URL    string
	Body   []byte
}

// RespFirstPayload is the first chunk of a v1/v2 *resp* stream. HeaderBlock
// is empty for v1 and for v2 responses with no headers.
type RespFirstPayload struct {
	StatusCode  uint16
	BodyLen     uint32
	HeaderBlock []byte
	Chunk       []byte
}

// RespChunkPayload is a tail chunk of a v1/v2 *resp* stream: body bytes only.
type RespChunkPayload struct {
	Chunk []byte
}

// RespHeadPayload is the v3 *resp-head* packet: the first header-block chunk,
// plus the response's status/body metadata and the body stream's total.
type RespHeadPayload struct {
	StatusCode     uint16
	BodyLen        uint32
	HdrIdx         uint16
	HdrChunksTotal uint16
	BodySeqTotal   uint16
	HdrChunk       []byte
}

// RespHeadContPayload is a v3 *resp-head-cont* packet: a continuation
// header-block chunk.
type RespHeadContPayload struct {
	HdrIdx         uint16
	HdrChunksTotal uint16
	HdrChunk       []byte
}

// RespBodyPayload is a v3 *resp-body* packet. AggTag is non-nil only on the
// terminal chunk of an AGG-mode body stream.
type RespBodyPayload struct {
	Chunk  []byte
	AggTag []byte
}

// BitmapPayload is the payload shared by *nack*, *nack-head*, and
// *nack-body*: a little-endian missing-sequence bitmap (spec §3).
type BitmapPayload struct {
	Bitmap []byte
}

// AckPayload is the payload of an *ack* packet.
type AckPayload struct {
	FirstLostSeq uint16
}

// ErrorPayload is the payload of an *error* packet.
type ErrorPayload struct {
	ErrorCode  uint8
	HTTPStatus uint16
	Message    string
}

// Packet is the decoded form of one datagram. Exactly one of the payload
// pointers is non-nil, selected by Kind.
type Packet struct {
	Kind   PacketKind
	Header Header

	Req          *ReqPayload
	RespFirst    *RespFirstPayload
	RespChunk    *RespChunkPayload
	RespHead     *RespHeadPayload
	RespHeadCont *RespHeadContPayload
	RespBody     *RespBodyPayload
	Bitmap       *BitmapPayload
	Ack          *AckPayload
	Error        *ErrorPayload
}

// kindToType maps a PacketKind to its wire type tag.
func kindToType(k PacketKind) uint8 {
	switch k {
	case KindReq:
		return spec.TypeReq
	case KindResp:
		return spec.TypeResp
	case KindRespHead:
		return spec.TypeRespHead
	case KindRespHeadCont:
		return spec.TypeRespHeadCont
	case KindRespBody:
		return spec.TypeRespBody
	case KindNack:
		return spec.TypeNack
	case KindNackHead:
		return spec.TypeNackHead
	case KindNackBody:
		return spec.TypeNackBody
	case KindAck:
		return spec.TypeAck
	case KindError:
		return spec.TypeError
	default:
		return 0
	}
}

// typeToKind is the inverse of kindToType; ok is false for an unknown tag.
func typeToKind(t uint8) (PacketKind, bool) {
	switch t {
	case spec.TypeReq:
		return KindReq, true
	case spec.TypeResp:
		return KindResp, true
	case spec.TypeRespHead:
		return KindRespHead, true
	case spec.TypeRespHeadCont:
		return KindRespHeadCont, true
	case spec.TypeRespBody:
		return KindRespBody, true
	case spec.TypeNack:
		return KindNack, true
	case spec.TypeNackHead:
		return KindNackHead, true
	case spec.TypeNackBody:
		return KindNackBody, true
	case spec.TypeAck:
		return KindAck, true
	case spec.TypeError:
		return KindError, true
	default:
		return 0, false
	}
}
