package codec

import "github.com/akari-proxy/akari-udp/internal/spec"

// Encode assembles one wire datagram for p, authenticating it under psk.
//
// Authentication follows spec §4.1:
//   - if the packet is AGG-mode *resp-body* (Aggregate flag set), the
//     trailing tag covers the header prefix only — the whole-body tag
//     already embedded in the terminal chunk's payload (p.RespBody.AggTag)
//     is what authenticates the body stream as a unit.
//   - else if Encrypted is set, the payload is AEAD-sealed (header prefix as
//     associated data) and the GCM tag serves as the trailing authenticator;
//     no separate HMAC is layered on top.
//   - else the trailing tag is HMAC-SHA256(psk, header‖payload)[:16].
//
// AGG and Encrypted together are not supported on a *resp-body*: if both
// flags are set there, AGG takes precedence and Encrypted is ignored. On
// every other kind the AGG flag does not affect authentication, so a *req*
// carrying both flags is encrypted.
func Encode(psk []byte, p Packet) ([]byte, error) {
	h := p.Header
	h.Type = kindToType(p.Kind)

	payload, err := payloadBytes(p)
	if err != nil {
		return nil, err
	}

	header := encodeHeaderPrefix(h)

	if p.Kind == KindRespBody && h.Aggregate() {
		tag := computeMAC(psk, header)
		out := make([]byte, 0, len(header)+len(payload)+len(tag))
		out = append(out, header...)
		out = append(out, payload...)
		out = append(out, tag...)
		return out, nil
	}

	if h.Encrypted() {
		ciphertext, err := sealPayload(psk, header, h.MessageID, h.Seq, h.Type, payload)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(header)+len(ciphertext))
		out = append(out, header...)
		out = append(out, ciphertext...)
		return out, nil
	}

	body := make([]byte, 0, len(header)+len(payload))
	body = append(body, header...)
	body = append(body, payload...)
	tag := computeMAC(psk, body)
	return append(body, tag...), nil
}

func payloadBytes(p Packet) ([]byte, error) {
	switch p.Kind {
	case KindReq:
		return encodeReqPayload(p.Req), nil
	case KindResp:
		if p.Header.Seq == 0 {
			return encodeRespFirstPayload(p.RespFirst), nil
		}
		return encodeRespChunkPayload(p.RespChunk), nil
	case KindRespHead:
		return encodeRespHeadPayload(p.RespHead), nil
	case KindRespHeadCont:
		return encodeRespHeadContPayload(p.RespHeadCont), nil
	case KindRespBody:
		return encodeRespBodyPayload(p.RespBody), nil
	case KindNack, KindNackHead, KindNackBody:
		return p.Bitmap.Bitmap, nil
	case KindAck:
		return encodeAckPayload(p.Ack), nil
	case KindError:
		return encodeErrorPayload(p.Error), nil
	default:
		return nil, newDecodeError(ReasonUnknownType, "")
	}
}

func encodeReqPayload(r *ReqPayload) []byte {
	var out []byte
	out = append(out, byte(len(r.Method)))
	out = append(out, r.Method...)
	out = appendUint16(out, uint16(len(r.URL)))
	out = append(out, r.URL...)
	out = appendUint32(out, uint32(len(r.Body)))
	out = append(out, r.Body...)
	return out
}

func encodeRespFirstPayload(r *RespFirstPayload) []byte {
	var out []byte
	out = appendUint16(out, r.StatusCode)
	out = appendUint16(out, uint16(len(r.HeaderBlock)))
	out = appendUint32(out, r.BodyLen)
	out = append(out, r.HeaderBlock...)
	out = append(out, r.Chunk...)
	return out
}

func encodeRespChunkPayload(r *RespChunkPayload) []byte {
	return append([]byte(nil), r.Chunk...)
}

func encodeRespHeadPayload(r *RespHeadPayload) []byte {
	var out []byte
	out = appendUint16(out, r.StatusCode)
	out = appendUint32(out, r.BodyLen)
	out = appendUint16(out, r.HdrIdx)
	out = appendUint16(out, r.HdrChunksTotal)
	out = appendUint16(out, r.BodySeqTotal)
	out = append(out, r.HdrChunk...)
	return out
}

func encodeRespHeadContPayload(r *RespHeadContPayload) []byte {
	var out []byte
	out = appendUint16(out, r.HdrIdx)
	out = appendUint16(out, r.HdrChunksTotal)
	out = append(out, r.HdrChunk...)
	return out
}

func encodeRespBodyPayload(r *RespBodyPayload) []byte {
	out := append([]byte(nil), r.Chunk...)
	if r.AggTag != nil {
		out = append(out, r.AggTag...)
	}
	return out
}

func encodeAckPayload(a *AckPayload) []byte {
	return appendUint16(nil, a.FirstLostSeq)
}

func encodeErrorPayload(e *ErrorPayload) []byte {
	var out []byte
	out = append(out, e.ErrorCode)
	out = appendUint16(out, e.HTTPStatus)
	out = appendUint16(out, uint16(len(e.Message)))
	out = append(out, e.Message...)
	return out
}

// EncodeReq builds a *req* packet.
func EncodeReq(psk []byte, version uint8, messageID uint32, method, url string, body []byte) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:   KindReq,
		Header: Header{Version: version, MessageID: messageID},
		Req:    &ReqPayload{Method: method, URL: url, Body: body},
	})
}

// EncodeRespFirst builds the first chunk of a v1/v2 *resp* stream.
func EncodeRespFirst(psk []byte, version uint8, messageID uint32, seqTotal uint16, statusCode uint16, bodyLen uint32, headerBlock, chunk []byte) ([]byte, error) {
	flags := uint8(0)
	if len(headerBlock) > 0 {
		flags |= spec.FlagHasHeader
	}
	return Encode(psk, Packet{
		Kind:      KindResp,
		Header:    Header{Version: version, MessageID: messageID, Seq: 0, SeqTotal: seqTotal, Flags: flags},
		RespFirst: &RespFirstPayload{StatusCode: statusCode, BodyLen: bodyLen, HeaderBlock: headerBlock, Chunk: chunk},
	})
}

// EncodeRespChunk builds a tail chunk of a v1/v2 *resp* stream.
func EncodeRespChunk(psk []byte, version uint8, messageID uint32, seq, seqTotal uint16, chunk []byte) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:      KindResp,
		Header:    Header{Version: version, MessageID: messageID, Seq: seq, SeqTotal: seqTotal},
		RespChunk: &RespChunkPayload{Chunk: chunk},
	})
}

// EncodeRespHeadV3 builds the v3 *resp-head* packet.
func EncodeRespHeadV3(psk []byte, messageID uint32, statusCode uint16, bodyLen uint32, hdrIdx, hdrChunksTotal, bodySeqTotal uint16, hdrChunk []byte) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:     KindRespHead,
		Header:   Header{Version: spec.V3, MessageID: messageID},
		RespHead: &RespHeadPayload{StatusCode: statusCode, BodyLen: bodyLen, HdrIdx: hdrIdx, HdrChunksTotal: hdrChunksTotal, BodySeqTotal: bodySeqTotal, HdrChunk: hdrChunk},
	})
}

// EncodeRespHeadContV3 builds a v3 *resp-head-cont* packet.
func EncodeRespHeadContV3(psk []byte, messageID uint32, hdrIdx, hdrChunksTotal uint16, hdrChunk []byte) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:         KindRespHeadCont,
		Header:       Header{Version: spec.V3, MessageID: messageID},
		RespHeadCont: &RespHeadContPayload{HdrIdx: hdrIdx, HdrChunksTotal: hdrChunksTotal, HdrChunk: hdrChunk},
	})
}

// EncodeRespBodyV3 builds a v3 *resp-body* packet. Pass aggTag non-nil only
// for the terminal chunk of an AGG-mode body stream; aggregate must also be
// true in that case.
func EncodeRespBodyV3(psk []byte, messageID uint32, seq, seqTotal uint16, chunk, aggTag []byte, aggregate bool) ([]byte, error) {
	flags := uint8(0)
	if aggregate {
		flags |= spec.FlagAggregate
	}
	return Encode(psk, Packet{
		Kind:     KindRespBody,
		Header:   Header{Version: spec.V3, MessageID: messageID, Seq: seq, SeqTotal: seqTotal, Flags: flags},
		RespBody: &RespBodyPayload{Chunk: chunk, AggTag: aggTag},
	})
}

// EncodeNack builds a *nack*/*nack-head*/*nack-body* packet depending on
// kind, which must be one of KindNack, KindNackHead, KindNackBody.
func EncodeNack(psk []byte, version uint8, kind PacketKind, messageID uint32, bitmap []byte) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:   kind,
		Header: Header{Version: version, MessageID: messageID},
		Bitmap: &BitmapPayload{Bitmap: bitmap},
	})
}

// EncodeAck builds an *ack* packet.
func EncodeAck(psk []byte, version uint8, messageID uint32, firstLostSeq uint16) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:   KindAck,
		Header: Header{Version: version, MessageID: messageID},
		Ack:    &AckPayload{FirstLostSeq: firstLostSeq},
	})
}

// EncodeError builds an *error* packet.
func EncodeError(psk []byte, version uint8, messageID uint32, errorCode uint8, httpStatus uint16, message string) ([]byte, error) {
	return Encode(psk, Packet{
		Kind:   KindError,
		Header: Header{Version: version, MessageID: messageID},
		Error:  &ErrorPayload{ErrorCode: errorCode, HTTPStatus: httpStatus, Message: message},
	})
}
