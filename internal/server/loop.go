package server

import (
	"net"
	"net/http"
	"time"

	"github.com/akari-proxy/akari-udp/internal/metrics"
	"github.com/akari-proxy/akari-udp/internal/transport"
)

// recvBufferSize is the per-datagram buffer used by the read loop. It is
// larger than spec.MaxDatagramCeiling, so a datagram over the ceiling is read
// whole and then rejected by codec.Decode as oversize.
const recvBufferSize = 1500

// Run reads datagrams from the already-bound sock until a receive fails
// with anything other than a timeout (for example, the socket is closed). Each datagram is dispatched in its own goroutine (spec §5:
// "server may process datagrams concurrently"); shared cache state is
// mutex-guarded inside Server itself.
func (s *Server) Run(sock transport.Socket) error {
	if s.cfg.MetricsAddr != "" {
		go s.serveMetrics()
	}

	buf := make([]byte, recvBufferSize)
	for {
		n, remote, err := sock.RecvFrom(buf, 5*time.Second)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			return err
		}
		datagram := append([]byte(nil), buf[:n]...)
		go s.dispatch(sock, remote, datagram)
	}
}

func (s *Server) dispatch(sock transport.Socket, remote *net.UDPAddr, datagram []byte) {
	for _, out := range s.HandleDatagram(remote, datagram) {
		if err := sock.SendTo(out, remote); err != nil {
			s.log.WithError(err).WithField("remote", remote.String()).Warn("send failed")
		}
	}
}

func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	s.log.WithField("addr", s.cfg.MetricsAddr).Info("serving /metrics")
	if err := http.ListenAndServe(s.cfg.MetricsAddr, mux); err != nil {
		s.log.WithError(err).Error("metrics server stopped")
	}
}
