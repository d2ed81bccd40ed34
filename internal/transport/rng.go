package transport

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
)

// RNG abstracts message_id generation and retry jitter (spec §4.7: "must be
// seeded nondeterministically"). A real implementation draws from
// crypto/rand so message_ids aren't guessable by an off-path attacker
// racing to inject a forged response.
type RNG interface {
	// MessageID returns a non-zero 32-bit message id (spec §3: "0 is
	// reserved/avoided").
	MessageID() uint32
	// JitterFraction returns a uniform float64 in [0, 1), used to scale
	// retry_jitter.
	JitterFraction() float64
}

// CryptoRNG is the production RNG.
type CryptoRNG struct{}

func NewCryptoRNG() CryptoRNG { return CryptoRNG{} }

func (CryptoRNG) MessageID() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("transport: crypto/rand unavailable: " + err.Error())
		}
		id := binary.BigEndian.Uint32(buf[:])
		if id != 0 {
			return id
		}
	}
}

func (CryptoRNG) JitterFraction() float64 {
	const denom = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(denom))
	if err != nil {
		panic("transport: crypto/rand unavailable: " + err.Error())
	}
	return float64(n.Int64()) / float64(denom)
}
