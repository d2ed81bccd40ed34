package server

import (
	"github.com/akari-proxy/akari-udp/internal/codec"
	"github.com/akari-proxy/akari-udp/internal/fragmenter"
	"github.com/akari-proxy/akari-udp/internal/spec"
)

// firstChunkSlack is the minimum number of first-chunk payload bytes the
// header block must leave free for body data (spec §4.2).
const firstChunkSlack = 64

// buildV1V2 encodes a complete v1/v2 resp stream: header block (v2 only)
// inline in the first chunk, body split across the first chunk and however
// many tail chunks are needed. truncated reports whether any header entry
// was dropped to fit the first-chunk cap, so the caller can log it.
func buildV1V2(psk []byte, version uint8, messageID uint32, statusCode uint16, headers map[string]string, body []byte, budget fragmenter.Budget) (datagrams [][]byte, truncated bool, err error) {
	var headerBlock []byte
	if version >= spec.V2 && len(headers) > 0 {
		hdrCap := budget.FirstChunkCapacity(0) - firstChunkSlack
		if hdrCap < 0 {
			hdrCap = 0
		}
		headerBlock, truncated = codec.EncodeHeaderBlockCapped(headers, hdrCap)
	}

	firstCap := budget.FirstChunkCapacity(len(headerBlock))
	if firstCap < 1 {
		firstCap = 1
	}
	firstChunk := body
	var tail []byte
	if len(body) > firstCap {
		firstChunk = body[:firstCap]
		tail = body[firstCap:]
	} else {
		tail = nil
	}

	tailChunks := fragmenter.SplitBody(tail, budget.BodyChunkCapacity())
	if len(tail) == 0 {
		tailChunks = nil
	}
	seqTotal := uint16(1 + len(tailChunks))
	if err := fragmenter.CheckSeqTotal(int(seqTotal)); err != nil {
		return nil, truncated, err
	}

	out := make([][]byte, 0, seqTotal)
	first, err := codec.EncodeRespFirst(psk, version, messageID, seqTotal, statusCode, uint32(len(body)), headerBlock, firstChunk)
	if err != nil {
		return nil, truncated, err
	}
	out = append(out, first)
	for i, chunk := range tailChunks {
		dg, err := codec.EncodeRespChunk(psk, version, messageID, uint16(i+1), seqTotal, chunk)
		if err != nil {
			return nil, truncated, err
		}
		out = append(out, dg)
	}
	return out, truncated, nil
}

// buildV3 encodes a v3 response as two independently-numbered streams: a
// header stream (resp-head + resp-head-cont) and a body stream (resp-body),
// the body stream's terminal chunk carrying an embedded whole-body HMAC tag
// when aggregate is requested.
func buildV3(psk []byte, messageID uint32, statusCode uint16, headers map[string]string, body []byte, aggregate bool, budget fragmenter.Budget) (headerDatagrams, bodyDatagrams [][]byte, err error) {
	headerBlock := codec.EncodeHeaderBlock(headers)
	hdrChunks := fragmenter.SplitHeaderBlock(headerBlock, budget.HeaderChunkCapacity(true), budget.HeaderChunkCapacity(false))
	if err := fragmenter.CheckSeqTotal(len(hdrChunks)); err != nil {
		return nil, nil, err
	}
	hdrTotal := uint16(len(hdrChunks))

	bodyCap := budget.BodyChunkCapacity()
	if aggregate {
		bodyCap = budget.AggBodyChunkCapacity()
	}
	bodyChunks := fragmenter.SplitBody(body, bodyCap)
	if err := fragmenter.CheckSeqTotal(len(bodyChunks)); err != nil {
		return nil, nil, err
	}
	bodyTotal := uint16(len(bodyChunks))

	var aggTag []byte
	if aggregate {
		aggTag = codec.ComputeAggregateTag(psk, body)
	}

	headerDatagrams = make([][]byte, 0, len(hdrChunks))
	head, err := codec.EncodeRespHeadV3(psk, messageID, statusCode, uint32(len(body)), 0, hdrTotal, bodyTotal, hdrChunks[0])
	if err != nil {
		return nil, nil, err
	}
	headerDatagrams = append(headerDatagrams, head)
	for i := 1; i < len(hdrChunks); i++ {
		dg, err := codec.EncodeRespHeadContV3(psk, messageID, uint16(i), hdrTotal, hdrChunks[i])
		if err != nil {
			return nil, nil, err
		}
		headerDatagrams = append(headerDatagrams, dg)
	}

	bodyDatagrams = make([][]byte, 0, len(bodyChunks))
	for i, chunk := range bodyChunks {
		terminal := aggregate && i == len(bodyChunks)-1
		var tag []byte
		if terminal {
			tag = aggTag
		}
		dg, err := codec.EncodeRespBodyV3(psk, messageID, uint16(i), bodyTotal, chunk, tag, aggregate)
		if err != nil {
			return nil, nil, err
		}
		bodyDatagrams = append(bodyDatagrams, dg)
	}

	return headerDatagrams, bodyDatagrams, nil
}
