package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/akari-proxy/akari-udp/internal/client"
	"github.com/akari-proxy/akari-udp/internal/config"
	"github.com/akari-proxy/akari-udp/internal/transport"
)

func main() {
	cfg, targetURL, method, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-client:", err)
		os.Exit(1)
	}
	if cfg.PSK == "" {
		psk, err := config.PromptPSK("pre-shared key: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "akari-client:", err)
			os.Exit(1)
		}
		cfg.PSK = psk
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "akari-client:", err)
		os.Exit(1)
	}
	if targetURL == "" {
		fmt.Fprintln(os.Stderr, "akari-client: -url is required")
		os.Exit(1)
	}

	serverAddr, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-client: resolving -server:", err)
		os.Exit(1)
	}
	sock, err := transport.ListenUDP(":0", cfg.BufferSize, cfg.DF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-client: binding local socket:", err)
		os.Exit(1)
	}
	defer sock.Close()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	c := client.New(cfg, sock, serverAddr, transport.NewCryptoRNG(), transport.NewSystemClock(), log)
	resp, err := c.Do(context.Background(), method, targetURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-client:", err)
		os.Exit(1)
	}

	fmt.Printf("HTTP %d\n", resp.StatusCode)
	for name, value := range resp.Headers {
		fmt.Printf("%s: %s\n", name, value)
	}
	fmt.Println()
	os.Stdout.Write(resp.Body)
}

// parseArgs builds a config.Client directly (rather than going through
// config.ParseClientFlags) so -url and -method share the same FlagSet as
// every other client option instead of requiring a second incompatible
// parse pass over argv.
func parseArgs(args []string) (config.Client, string, string, error) {
	c := config.DefaultClient()
	fs := flag.NewFlagSet("akari-client", flag.ContinueOnError)

	targetURL := fs.String("url", "", "URL to request through the server (required)")
	method := fs.String("method", "GET", "HTTP method")
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
		return config.Client{}, "", "", err
	}
	c.ProtocolVersion = uint8(*version)
	if c.PSK == "" {
		c.PSK = os.Getenv("AKARI_PSK")
	}
	if *targetURL == "" {
		if remaining := fs.Args(); len(remaining) > 0 {
			*targetURL = remaining[0]
		}
	}
	if c.ServerAddr == "" {
		return config.Client{}, "", "", fmt.Errorf("-server is required")
	}
	return c, *targetURL, *method, nil
}
