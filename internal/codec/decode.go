package codec

import "github.com/akari-proxy/akari-udp/internal/spec"

// Decode parses and authenticates one datagram under psk. A non-nil error
// is always a *DecodeError; callers branch on its Reason (spec §4.1, §7:
// every decode failure is non-fatal for the receiving loop — log and drop).
func Decode(datagram []byte, psk []byte) (*Packet, error) {
	if len(datagram) > spec.MaxDatagramCeiling {
		return nil, newDecodeError(ReasonOversize, "")
	}

	h, err := decodeHeaderPrefix(datagram)
	if err != nil {
		return nil, err
	}
	kind, ok := typeToKind(h.Type)
	if !ok {
		return nil, newDecodeError(ReasonUnknownType, "")
	}

	header := datagram[:headerPrefixSize]
	rest := datagram[headerPrefixSize:]

	var payload []byte

	if kind == KindRespBody && h.Aggregate() {
		if len(rest) < spec.MACSize {
			return nil, newDecodeError(ReasonShortDatagram, "trailing tag")
		}
		body, tag := rest[:len(rest)-spec.MACSize], rest[len(rest)-spec.MACSize:]
		if !verifyMAC(psk, header, tag) {
			return nil, newDecodeError(ReasonMACMismatch, "")
		}
		payload = body
	} else if h.Encrypted() {
		plaintext, err := openPayload(psk, header, h.MessageID, h.Seq, h.Type, rest)
		if err != nil {
			return nil, newDecodeError(ReasonMACMismatch, "aead open failed")
		}
		payload = plaintext
	} else {
		if len(rest) < spec.MACSize {
			return nil, newDecodeError(ReasonShortDatagram, "trailing tag")
		}
		body, tag := rest[:len(rest)-spec.MACSize], rest[len(rest)-spec.MACSize:]
		if !verifyMAC(psk, datagram[:headerPrefixSize+len(body)], tag) {
			return nil, newDecodeError(ReasonMACMismatch, "")
		}
		payload = body
	}

	p, err := parsePayload(kind, h, payload)
	if err != nil {
		return nil, err
	}
	p.Header = h
	p.Kind = kind
	return p, nil
}

func parsePayload(kind PacketKind, h Header, payload []byte) (*Packet, error) {
	switch kind {
	case KindReq:
		r, err := decodeReqPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Packet{Req: r}, nil

	case KindResp:
		if h.Seq == 0 {
			r, err := decodeRespFirstPayload(payload)
			if err != nil {
				return nil, err
			}
			return &Packet{RespFirst: r}, nil
		}
		return &Packet{RespChunk: &RespChunkPayload{Chunk: append([]byte(nil), payload...)}}, nil

	case KindRespHead:
		r, err := decodeRespHeadPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Packet{RespHead: r}, nil

	case KindRespHeadCont:
		r, err := decodeRespHeadContPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Packet{RespHeadCont: r}, nil

	case KindRespBody:
		r, err := decodeRespBodyPayload(h, payload)
		if err != nil {
			return nil, err
		}
		return &Packet{RespBody: r}, nil

	case KindNack, KindNackHead, KindNackBody:
		return &Packet{Bitmap: &BitmapPayload{Bitmap: append([]byte(nil), payload...)}}, nil

	case KindAck:
		r, err := decodeAckPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Packet{Ack: r}, nil

	case KindError:
		r, err := decodeErrorPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Packet{Error: r}, nil

	default:
		return nil, newDecodeError(ReasonUnknownType, "")
	}
}

func decodeReqPayload(buf []byte) (*ReqPayload, error) {
	if len(buf) < 1 {
		return nil, newDecodeError(ReasonPayloadMalformed, "req method_len")
	}
	methodLen := int(buf[0])
	buf = buf[1:]
	methodBytes, buf, err := readBytes(buf, methodLen)
	if err != nil {
		return nil, err
	}
	urlLen, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	urlBytes, buf, err := readBytes(buf, int(urlLen))
	if err != nil {
		return nil, err
	}
	bodyLen, buf, err := readUint32(buf)
	if err != nil {
		return nil, err
	}
	bodyBytes, _, err := readBytes(buf, int(bodyLen))
	if err != nil {
		return nil, err
	}
	return &ReqPayload{Method: string(methodBytes), URL: string(urlBytes), Body: append([]byte(nil), bodyBytes...)}, nil
}

func decodeRespFirstPayload(buf []byte) (*RespFirstPayload, error) {
	statusCode, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	hdrLen, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	bodyLen, buf, err := readUint32(buf)
	if err != nil {
		return nil, err
	}
	hdrBlock, buf, err := readBytes(buf, int(hdrLen))
	if err != nil {
		return nil, err
	}
	return &RespFirstPayload{
		StatusCode:  statusCode,
		BodyLen:     bodyLen,
		HeaderBlock: append([]byte(nil), hdrBlock...),
		Chunk:       append([]byte(nil), buf...),
	}, nil
}

func decodeRespHeadPayload(buf []byte) (*RespHeadPayload, error) {
	statusCode, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	bodyLen, buf, err := readUint32(buf)
	if err != nil {
		return nil, err
	}
	hdrIdx, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	hdrChunksTotal, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	bodySeqTotal, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	return &RespHeadPayload{
		StatusCode:     statusCode,
		BodyLen:        bodyLen,
		HdrIdx:         hdrIdx,
		HdrChunksTotal: hdrChunksTotal,
		BodySeqTotal:   bodySeqTotal,
		HdrChunk:       append([]byte(nil), buf...),
	}, nil
}

func decodeRespHeadContPayload(buf []byte) (*RespHeadContPayload, error) {
	hdrIdx, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	hdrChunksTotal, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	return &RespHeadContPayload{
		HdrIdx:         hdrIdx,
		HdrChunksTotal: hdrChunksTotal,
		HdrChunk:       append([]byte(nil), buf...),
	}, nil
}

// decodeRespBodyPayload splits off the embedded whole-body tag on the
// terminal chunk of an AGG-mode stream (seq+1 == seq_total). Non-terminal
// AGG chunks, and all non-AGG chunks, carry no embedded tag.
func decodeRespBodyPayload(h Header, buf []byte) (*RespBodyPayload, error) {
	terminal := h.Aggregate() && h.SeqTotal > 0 && h.Seq+1 == h.SeqTotal
	if !terminal {
		return &RespBodyPayload{Chunk: append([]byte(nil), buf...)}, nil
	}
	if len(buf) < spec.MACSize {
		return nil, newDecodeError(ReasonPayloadMalformed, "missing agg tag")
	}
	split := len(buf) - spec.MACSize
	return &RespBodyPayload{
		Chunk:  append([]byte(nil), buf[:split]...),
		AggTag: append([]byte(nil), buf[split:]...),
	}, nil
}

func decodeAckPayload(buf []byte) (*AckPayload, error) {
	firstLostSeq, _, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	return &AckPayload{FirstLostSeq: firstLostSeq}, nil
}

func decodeErrorPayload(buf []byte) (*ErrorPayload, error) {
	if len(buf) < 1 {
		return nil, newDecodeError(ReasonPayloadMalformed, "error code")
	}
	errorCode := buf[0]
	buf = buf[1:]
	httpStatus, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	msgLen, buf, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	msgBytes, _, err := readBytes(buf, int(msgLen))
	if err != nil {
		return nil, err
	}
	return &ErrorPayload{ErrorCode: errorCode, HTTPStatus: httpStatus, Message: string(msgBytes)}, nil
}
