package codec

import (
	"encoding/binary"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

// headerPrefixSize is the fixed canonical header every packet kind carries
// on the wire, regardless of version. Fields a given kind doesn't use are
// zeroed. This keeps the codec's size-budget math (spec §4.2) version
// agnostic: PROTO_OVERHEAD always means "this fixed prefix plus one MAC".
const headerPrefixSize = spec.HeaderPrefixMax

// encodeHeaderPrefix writes the 24-byte canonical prefix.
//
// Layout (big-endian):
//
//	[0:2]   magic
//	[2]     version
//	[3]     type
//	[4]     flags
//	[5]     reserved
//	[6:10]  message_id
//	[10:14] timestamp
//	[14:16] seq
//	[16:18] seq_total
//	[18:20] short_id
//	[20:24] reserved
func encodeHeaderPrefix(h Header) []byte {
	buf := make([]byte, headerPrefixSize)
	binary.BigEndian.PutUint16(buf[0:2], spec.Magic)
	buf[2] = h.Version
	buf[3] = h.Type
	buf[4] = h.Flags
	binary.BigEndian.PutUint32(buf[6:10], h.MessageID)
	binary.BigEndian.PutUint32(buf[10:14], h.Timestamp)
	binary.BigEndian.PutUint16(buf[14:16], h.Seq)
	binary.BigEndian.PutUint16(buf[16:18], h.SeqTotal)
	binary.BigEndian.PutUint16(buf[18:20], h.ShortID)
	return buf
}

// decodeHeaderPrefix parses the fixed 24-byte prefix. It does not validate
// the type tag against the version; callers do that during dispatch.
func decodeHeaderPrefix(buf []byte) (Header, error) {
	if len(buf) < headerPrefixSize {
		return Header{}, newDecodeError(ReasonShortDatagram, "prefix")
	}
	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != spec.Magic {
		return Header{}, newDecodeError(ReasonPayloadMalformed, "bad magic")
	}
	h := Header{
		Version:   buf[2],
		Type:      buf[3],
		Flags:     buf[4],
		MessageID: binary.BigEndian.Uint32(buf[6:10]),
		Timestamp: binary.BigEndian.Uint32(buf[10:14]),
		Seq:       binary.BigEndian.Uint16(buf[14:16]),
		SeqTotal:  binary.BigEndian.Uint16(buf[16:18]),
		ShortID:   binary.BigEndian.Uint16(buf[18:20]),
	}
	switch h.Version {
	case spec.V1, spec.V2, spec.V3:
	default:
		return Header{}, newDecodeError(ReasonUnknownVersion, "")
	}
	return h, nil
}

// appendUint16 / appendUint32 append a big-endian integer; readUint16 / readUint32
// read one off the front of buf and return the remainder.

func appendUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func readUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, newDecodeError(ReasonPayloadMalformed, "truncated u16")
	}
	return binary.BigEndian.Uint16(buf[:2]), buf[2:], nil
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, newDecodeError(ReasonPayloadMalformed, "truncated u32")
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

func readBytes(buf []byte, n int) ([]byte, []byte, error) {
	if n < 0 || len(buf) < n {
		return nil, nil, newDecodeError(ReasonPayloadMalformed, "truncated field")
	}
	return buf[:n], buf[n:], nil
}
