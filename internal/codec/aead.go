package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

// aeadSubkeySalt is a fixed, non-secret salt used when deriving the AEAD
// subkey from the PSK. It is not carried on the wire: the wire budget
// (spec §4.2's PROTO_OVERHEAD) has no room for a per-packet salt, so the
// subkey is derived once per PSK and cached. This is the keyed-KDF
// indirection spec §4.1 recommends ("implementations SHOULD derive a
// subkey via a keyed KDF") rather than using the PSK bytes directly as the
// AES key.
var aeadSubkeySalt = []byte("akari-udp/aead-subkey/v1")

var subkeyCache sync.Map // string(psk) -> []byte

func deriveSubkey(psk []byte) []byte {
	key := string(psk)
	if v, ok := subkeyCache.Load(key); ok {
		return v.([]byte)
	}
	subkey := pbkdf2.Key(psk, aeadSubkeySalt, spec.PBKDF2Iters, spec.AEADKeySize, sha256.New)
	subkeyCache.Store(key, subkey)
	return subkey
}

func newGCM(psk []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveSubkey(psk))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// deterministicNonce builds the 12-byte AES-GCM nonce from
// message_id‖seq‖type, as spec §4.1 documents for the reference
// implementation. This is unsafe for key reuse across process restarts
// without a persistent counter (see spec §9's Open Questions); this module
// accepts that limitation rather than diverging from documented reference
// behavior.
func deterministicNonce(messageID uint32, seq uint16, typeTag uint8) []byte {
	nonce := make([]byte, spec.AEADNonceSize)
	nonce[0] = byte(messageID >> 24)
	nonce[1] = byte(messageID >> 16)
	nonce[2] = byte(messageID >> 8)
	nonce[3] = byte(messageID)
	nonce[4] = byte(seq >> 8)
	nonce[5] = byte(seq)
	nonce[6] = typeTag
	return nonce
}

// sealPayload AEAD-encrypts plaintext, authenticating header (the fixed
// wire prefix) as associated data so a forged header can't be replayed
// against a legitimately encrypted payload. The returned ciphertext
// includes the appended GCM tag; callers treat it as the packet's trailing
// authenticator, no separate HMAC is layered on top for encrypted packets.
func sealPayload(psk []byte, header []byte, messageID uint32, seq uint16, typeTag uint8, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(psk)
	if err != nil {
		return nil, err
	}
	nonce := deterministicNonce(messageID, seq, typeTag)
	return gcm.Seal(nil, nonce, plaintext, header), nil
}

// openPayload reverses sealPayload. Any failure (tampering, wrong PSK,
// forged header) surfaces as a generic error; callers map it to
// ReasonMACMismatch.
func openPayload(psk []byte, header []byte, messageID uint32, seq uint16, typeTag uint8, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(psk)
	if err != nil {
		return nil, err
	}
	nonce := deterministicNonce(messageID, seq, typeTag)
	return gcm.Open(nil, nonce, ciphertext, header)
}
