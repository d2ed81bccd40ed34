// Package config collects the runtime options spec §6 names as flags and
// environment variables. Loading, CLI front-ends, and process wiring are
// explicitly out of scope for the core transport (spec §1), so this stays
// thin: one struct, one FlagSet, one env-var overlay — the same shape the
// teacher's cmd/*/main.go files use flag.String/flag.Int directly for.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// Client holds the options spec §6 lists as client-relevant.
type Client struct {
	PSK                string
	ServerAddr         string
	ProtocolVersion    uint8
	Timeout            time.Duration
	SockTimeout        time.Duration
	FirstSeqTimeout    time.Duration
	BufferSize         int
	MaxNackRounds      int // < 0 means unbounded
	MaxAckRounds       int
	InitialReqRetries  int
	HeartbeatInterval  time.Duration
	HeartbeatBackoff   float64
	MaxRetries         int
	RetryJitter        time.Duration
	AggTag             bool
	Encrypt            bool
	DF                 bool
}

// Server holds the options spec §6 lists as server-relevant.
type Server struct {
	PSK               string
	ListenAddr        string
	RequireEncryption bool
	PayloadMax        int
	BufferSize        int
	DF                bool
	PLPMTUD           bool
	MetricsAddr       string // empty disables the /metrics endpoint
}

// DefaultClient mirrors the defaults spec §4.6 names.
func DefaultClient() Client {
	return Client{
		ProtocolVersion:   3,
		Timeout:           10 * time.Second,
		SockTimeout:       time.Second,
		FirstSeqTimeout:   2 * time.Second,
		BufferSize:        1200,
		MaxNackRounds:     3,
		MaxAckRounds:      0,
		InitialReqRetries: 1,
		HeartbeatBackoff:  2.0,
		MaxRetries:        0,
		AggTag:            true,
		Encrypt:           false,
		DF:                false,
	}
}

// DefaultServer mirrors the server-side defaults.
func DefaultServer() Server {
	return Server{
		RequireEncryption: false,
		PayloadMax:        1200,
		BufferSize:        1200,
		DF:                false,
		PLPMTUD:           false,
	}
}

// ParseClientFlags parses args against a fresh FlagSet seeded with
// DefaultClient, then overlays AKARI_PSK from the environment when -psk was
// not given (so a PSK never needs to appear in a process listing).
func ParseClientFlags(args []string) (Client, error) {
	c := DefaultClient()
	fs := flag.NewFlagSet("akari-client", flag.ContinueOnError)
	fs.StringVar(&c.PSK, "psk", "", "pre-shared key (falls back to AKARI_PSK, then a hidden prompt)")
	fs.StringVar(&c.ServerAddr, "server", "", "server host:port (required)")
	version := fs.Uint("version", uint(c.ProtocolVersion), "protocol version (1, 2, or 3)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "overall request timeout, 0 = unbounded")
	fs.DurationVar(&c.SockTimeout, "sock-timeout", c.SockTimeout, "single recv poll interval")
	fs.DurationVar(&c.FirstSeqTimeout, "first-seq-timeout", c.FirstSeqTimeout, "deadline for the first response chunk")
	fs.IntVar(&c.BufferSize, "buffer-size", c.BufferSize, "UDP recv buffer / per-packet sizing ceiling")
	fs.IntVar(&c.MaxNackRounds, "max-nack-rounds", c.MaxNackRounds, "NACK budget, negative = unbounded")
	fs.IntVar(&c.MaxAckRounds, "max-ack-rounds", c.MaxAckRounds, "ACK budget")
	fs.IntVar(&c.InitialReqRetries, "initial-request-retries", c.InitialReqRetries, "request resends before first reply")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "proactive re-probe interval, 0 disables")
	fs.Float64Var(&c.HeartbeatBackoff, "heartbeat-backoff", c.HeartbeatBackoff, "multiplier applied to heartbeat interval after each re-probe")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "heartbeat re-probe budget")
	fs.DurationVar(&c.RetryJitter, "retry-jitter", c.RetryJitter, "uniform jitter ceiling added to each re-probe delay")
	fs.BoolVar(&c.AggTag, "agg-tag", c.AggTag, "use v3 aggregate-tag body mode")
	fs.BoolVar(&c.Encrypt, "encrypt", c.Encrypt, "AEAD-encrypt request payloads (sets the E flag)")
	fs.BoolVar(&c.DF, "df", c.DF, "set the Don't-Fragment socket option")

	if err := fs.Parse(args); err != nil {
		return Client{}, err
	}
	c.ProtocolVersion = uint8(*version)

	if c.PSK == "" {
		c.PSK = os.Getenv("AKARI_PSK")
	}
	if c.ServerAddr == "" {
		return Client{}, errors.New("config: -server is required")
	}
	return c, nil
}

// ParseServerFlags parses args against a fresh FlagSet seeded with
// DefaultServer.
func ParseServerFlags(args []string) (Server, error) {
	s := DefaultServer()
	fs := flag.NewFlagSet("akari-server", flag.ContinueOnError)
	fs.StringVar(&s.PSK, "psk", "", "pre-shared key (falls back to AKARI_PSK, then a hidden prompt)")
	fs.StringVar(&s.ListenAddr, "listen", ":7777", "UDP listen address")
	fs.BoolVar(&s.RequireEncryption, "require-encryption", s.RequireEncryption, "reject requests without the E flag")
	fs.IntVar(&s.PayloadMax, "payload-max", s.PayloadMax, "hard cap on emitted datagram size")
	fs.IntVar(&s.BufferSize, "buffer-size", s.BufferSize, "UDP recv buffer")
	fs.BoolVar(&s.DF, "df", s.DF, "set the Don't-Fragment socket option")
	fs.BoolVar(&s.PLPMTUD, "plpmtud", s.PLPMTUD, "tighten payload-max using the kernel-reported path MTU")
	fs.StringVar(&s.MetricsAddr, "metrics-addr", "", "address to serve /metrics on, empty disables it")

	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	if s.PSK == "" {
		s.PSK = os.Getenv("AKARI_PSK")
	}
	return s, nil
}

// Validate reports a config.Server with an empty PSK as a fatal startup
// error (spec §7: "Fatal: only startup-time configuration errors...
// reported to stderr and the process exits").
func (s Server) Validate() error {
	if s.PSK == "" {
		return fmt.Errorf("config: psk is required (set -psk or AKARI_PSK)")
	}
	return nil
}

// Validate reports a config.Client with an empty PSK as a fatal startup
// error.
func (c Client) Validate() error {
	if c.PSK == "" {
		return fmt.Errorf("config: psk is required (set -psk or AKARI_PSK)")
	}
	return nil
}
