package server

import (
	"strings"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

// whitelistHeaders copies only the response headers the wire format is
// willing to carry (spec.ResponseHeaderWhitelist), lower-casing names so
// later priority lookups in codec.EncodeHeaderBlockCapped match.
func whitelistHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		lower := strings.ToLower(name)
		if spec.ResponseHeaderWhitelist[lower] {
			out[lower] = value
		}
	}
	return out
}
