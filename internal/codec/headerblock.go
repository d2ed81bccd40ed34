package codec

import "github.com/akari-proxy/akari-udp/internal/spec"

// headerEntry is one packed header-block entry before serialization.
type headerEntry struct {
	name  string // only used when id == 0
	id    uint8
	value []byte
}

func encodeHeaderEntry(name string, value []byte) (headerEntry, bool) {
	lower := name
	if len(value) > 0xFFFF {
		return headerEntry{}, false // value too large, skipped (spec §3)
	}
	if id, ok := spec.StaticHeaderIDs[lower]; ok {
		return headerEntry{id: id, value: value}, true
	}
	if len(lower) > 0xFF {
		return headerEntry{}, false // name too large, skipped (spec §3)
	}
	return headerEntry{id: 0, name: lower, value: value}, true
}

func (e headerEntry) wireBytes() []byte {
	var out []byte
	out = append(out, e.id)
	if e.id == 0 {
		out = append(out, byte(len(e.name)))
		out = append(out, e.name...)
	}
	out = appendUint16(out, uint16(len(e.value)))
	out = append(out, e.value...)
	return out
}

// EncodeHeaderBlock packs a header map into the wire format described in
// spec §3: each entry is id(1)[+name_len(1)+name][ ]+value_len(2,BE)+value.
// Entries whose value exceeds 0xFFFF bytes, or whose name exceeds 0xFF
// bytes (for unknown names), are skipped per spec.
func EncodeHeaderBlock(headers map[string]string) []byte {
	var out []byte
	for name, value := range headers {
		entry, ok := encodeHeaderEntry(name, []byte(value))
		if !ok {
			continue
		}
		out = append(out, entry.wireBytes()...)
	}
	return out
}

// EncodeHeaderBlockCapped packs headers in spec.HeaderEncodePriority order,
// stopping once adding the next entry would exceed cap bytes. It reports
// whether any entry had to be dropped to fit, so the caller can log the
// truncation event (spec §4.2: "truncation MUST be logged").
func EncodeHeaderBlockCapped(headers map[string]string, cap int) (block []byte, truncated bool) {
	normalized := make(map[string]string, len(headers))
	for name, value := range headers {
		normalized[lowerASCII(name)] = value
	}

	order := make([]string, 0, len(normalized))
	seen := make(map[string]bool, len(normalized))
	for _, name := range spec.HeaderEncodePriority {
		if v, ok := normalized[name]; ok {
			order = append(order, name)
			seen[name] = true
			_ = v
		}
	}
	for name := range normalized {
		if !seen[name] {
			order = append(order, name)
		}
	}

	for _, name := range order {
		entry, ok := encodeHeaderEntry(name, []byte(normalized[name]))
		if !ok {
			continue
		}
		wire := entry.wireBytes()
		if len(block)+len(wire) > cap {
			truncated = true
			break
		}
		block = append(block, wire...)
	}
	return block, truncated
}

// DecodeHeaderBlock reverses EncodeHeaderBlock.
func DecodeHeaderBlock(block []byte) (map[string]string, error) {
	headers := make(map[string]string)
	rest := block
	for len(rest) > 0 {
		id := rest[0]
		rest = rest[1:]
		var name string
		if id == 0 {
			if len(rest) < 1 {
				return nil, newDecodeError(ReasonPayloadMalformed, "header name_len")
			}
			nameLen := int(rest[0])
			rest = rest[1:]
			var nameBytes []byte
			var err error
			nameBytes, rest, err = readBytes(rest, nameLen)
			if err != nil {
				return nil, err
			}
			name = string(nameBytes)
		} else {
			known, ok := spec.StaticHeaderNames[id]
			if !ok {
				return nil, newDecodeError(ReasonPayloadMalformed, "unknown header id")
			}
			name = known
		}
		valueLen, next, err := readUint16(rest)
		if err != nil {
			return nil, err
		}
		rest = next
		var value []byte
		value, rest, err = readBytes(rest, int(valueLen))
		if err != nil {
			return nil, err
		}
		headers[name] = string(value)
	}
	return headers, nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
