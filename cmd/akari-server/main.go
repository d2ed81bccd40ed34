package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akari-proxy/akari-udp/internal/config"
	"github.com/akari-proxy/akari-udp/internal/fetch"
	"github.com/akari-proxy/akari-udp/internal/server"
	"github.com/akari-proxy/akari-udp/internal/transport"
)

func main() {
	cfg, err := config.ParseServerFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-server:", err)
		os.Exit(1)
	}
	if cfg.PSK == "" {
		psk, err := config.PromptPSK("pre-shared key: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "akari-server:", err)
			os.Exit(1)
		}
		cfg.PSK = psk
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "akari-server:", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	sock, err := transport.ListenUDP(cfg.ListenAddr, cfg.BufferSize, cfg.DF)
	if err != nil {
		log.WithError(err).Fatal("binding listen address")
	}

	fetcher := fetch.NewDefaultFetcher(20 * time.Second)
	srv := server.New(cfg, fetcher, 15*time.Second, log, transport.NewSystemClock())

	log.WithFields(logrus.Fields{
		"listen":             cfg.ListenAddr,
		"require_encryption": cfg.RequireEncryption,
		"payload_max":        cfg.PayloadMax,
		"metrics_addr":       cfg.MetricsAddr,
	}).Info("akari-server starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		sock.Close()
		os.Exit(0)
	}()

	if err := srv.Run(sock); err != nil {
		log.WithError(err).Fatal("server loop exited")
	}
}
