// Package fragmenter splits a header block and a response body into
// MTU-safe chunks, and tells callers exactly how many bytes of payload fit
// in one datagram for a given packet kind and version.
//
// The arithmetic here is the direct descendant of this codebase's DNS
// chunker (TXT-record string limits, metadata overhead, ceiling division to
// size a chunk count): the same self-contained, self-describing-chunk
// philosophy, re-targeted from a 255-byte DNS string ceiling to a
// UDP-datagram ceiling with real IP/MAC/AEAD overhead.
package fragmenter

import (
	"fmt"
	"math"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

// Budget computes MTU-driven capacity numbers for one session. NewBudget
// sets PathMTU to spec.MaxDatagramCeiling when the configured values are
// unset or exceed the hard ceiling (spec §4.2: "regardless of configured
// buffer_size/payload_max"); a Budget built by hand is used as given.
type Budget struct {
	PathMTU int
}

// NewBudget computes the effective max datagram size as
// min(bufferSize, payloadMax) (spec §4.2), clamped to spec.MaxDatagramCeiling.
// Either argument may be zero or negative to mean "unset"; if both are unset
// the ceiling itself is used.
func NewBudget(bufferSize, payloadMax int) Budget {
	effective := payloadMax
	if bufferSize > 0 && (effective <= 0 || bufferSize < effective) {
		effective = bufferSize
	}
	if effective <= 0 || effective > spec.MaxDatagramCeiling {
		effective = spec.MaxDatagramCeiling
	}
	return Budget{PathMTU: effective}
}

// WithPathMTU returns a Budget whose effective datagram size is additionally
// tightened to mtu, when mtu is a positive improvement over the current
// value (spec §6 `plpmtud`: "use kernel-reported MTU to dynamically tighten
// payload_max"; spec §9: "treat kernel MTU as a hint, never a guarantee" —
// so this only ever shrinks the budget, never grows it past what NewBudget
// already computed).
func (b Budget) WithPathMTU(mtu int) Budget {
	if mtu > 0 && mtu < b.PathMTU {
		return Budget{PathMTU: mtu}
	}
	return b
}

// datagramCeiling is the largest datagram this budget will ever emit.
func (b Budget) datagramCeiling() int {
	return b.PathMTU
}

// BodyChunkCapacity is the number of raw body bytes that fit in one
// resp-body (v3) or tail resp-chunk (v1/v2) packet: the datagram ceiling
// minus the worst-case IP/UDP header allowance, the AKARI framing budget
// (fixed header prefix plus trailing MAC/AEAD tag), and the safety margin
// (spec §4.2: "per-chunk payload budget = max_datagram −
// UDP_IP_OVERHEAD(48) − PROTO_OVERHEAD(40) − SAFETY_MARGIN(32)").
func (b Budget) BodyChunkCapacity() int {
	cap := b.datagramCeiling() - spec.UDPIPOverhead - spec.ProtoOverhead - spec.SafetyMargin
	if cap < 1 {
		cap = 1
	}
	return cap
}

// AggBodyChunkCapacity is BodyChunkCapacity reduced by one MAC size, for the
// terminal chunk of an AGG-mode v3 body stream, which embeds the whole-body
// tag inside its payload in addition to the trailing per-packet tag.
func (b Budget) AggBodyChunkCapacity() int {
	cap := b.BodyChunkCapacity() - spec.MACSize
	if cap < 1 {
		cap = 1
	}
	return cap
}

// FirstChunkCapacity is the body-chunk capacity of a v1/v2 resp first
// packet, which also carries status/body_len/hdr_len fields and an inline
// header block of headerBlockLen bytes.
func (b Budget) FirstChunkCapacity(headerBlockLen int) int {
	cap := b.datagramCeiling() - spec.UDPIPOverhead - spec.ProtoOverhead - spec.ResponseFirstHdr - headerBlockLen - spec.SafetyMargin
	if cap < 0 {
		cap = 0
	}
	return cap
}

// HeaderChunkCapacity is the number of header-block bytes that fit in one
// v3 resp-head / resp-head-cont packet (which also carries idx/total
// fields, and resp-head additionally carries status/body_len/body_seq_total).
func (b Budget) HeaderChunkCapacity(isFirst bool) int {
	fixed := 2 + 2 // hdr_idx + hdr_chunks_total, every variant
	if isFirst {
		fixed += 2 + 4 + 2 // status + body_len + body_seq_total
	}
	cap := b.datagramCeiling() - spec.UDPIPOverhead - spec.ProtoOverhead - fixed - spec.SafetyMargin
	if cap < 1 {
		cap = 1
	}
	return cap
}

// SplitBody divides body into chunks of at most chunkCap bytes each, in
// order. An empty body yields one empty chunk, matching spec §4.3's
// requirement that a zero-length response still gets one terminal chunk.
func SplitBody(body []byte, chunkCap int) [][]byte {
	if chunkCap < 1 {
		chunkCap = 1
	}
	if len(body) == 0 {
		return [][]byte{{}}
	}
	total := int(math.Ceil(float64(len(body)) / float64(chunkCap)))
	chunks := make([][]byte, 0, total)
	for start := 0; start < len(body); start += chunkCap {
		end := start + chunkCap
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[start:end])
	}
	return chunks
}

// SplitHeaderBlock divides an encoded header block into chunks, the first
// holding at most firstCap bytes and each continuation at most contCap. The
// first chunk is smaller because the resp-head packet also carries the
// status/body_len/body_seq_total fields a resp-head-cont does not. An empty
// block yields one empty chunk: resp-head's HdrChunk is simply empty and
// HdrChunksTotal is 1.
func SplitHeaderBlock(block []byte, firstCap, contCap int) [][]byte {
	if firstCap < 1 {
		firstCap = 1
	}
	if contCap < 1 {
		contCap = 1
	}
	if len(block) <= firstCap {
		return [][]byte{block}
	}
	return append([][]byte{block[:firstCap]}, SplitBody(block[firstCap:], contCap)...)
}

// CheckSeqTotal verifies a computed chunk count fits the wire's uint16 total
// field (spec §4.2: the same overflow guard this codebase's chunker applied
// to DNS records, carried over to the datagram's seq_total).
func CheckSeqTotal(count int) error {
	if count > math.MaxUint16 {
		return fmt.Errorf("fragmenter: %d chunks exceeds uint16 seq_total", count)
	}
	return nil
}
