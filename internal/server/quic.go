package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dropwire/coordinator/internal/config"
	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/ratelimit"
	"github.com/dropwire/coordinator/internal/router"
)

const quicALPN = "dropwire-signal"

// QUICGateway accepts native clients over QUIC. Each connection carries one
// bidirectional stream of newline-delimited JSON envelopes, identical in
// content to the WebSocket frames.
type QUICGateway struct {
	addr     string
	tlsConf  *tls.Config
	router   *router.Router
	limiter  *ratelimit.TokenBucket
	maxFrame int64

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewQUICGateway creates the QUIC ingress.
func NewQUICGateway(cfg *config.Config, tlsConf *tls.Config, rt *router.Router, logger *observability.Logger, metrics *observability.Metrics) *QUICGateway {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{quicALPN}
	return &QUICGateway{
		addr:     cfg.QUICAddress,
		tlsConf:  tlsConf,
		router:   rt,
		limiter:  ratelimit.NewTokenBucket(cfg.AcceptRatePerSecond, cfg.AcceptBurst),
		maxFrame: 4 * cfg.MaxEnvelopeBytes(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Run listens and serves until the context is cancelled.
func (g *QUICGateway) Run(ctx context.Context) error {
	quicConf := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
	listener, err := quic.ListenAddr(g.addr, g.tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Error(err, "failed to accept QUIC connection")
			continue
		}
		if !g.limiter.Allow(1) {
			conn.CloseWithError(1, "connection rate exceeded")
			continue
		}
		go g.handleConnection(ctx, conn)
	}
}

// handleConnection drives one peer's duplex stream.
func (g *QUICGateway) handleConnection(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "coordinator closing")

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		g.logger.Error(err, "failed to accept signal stream")
		return
	}

	client := g.router.Connect(&quicOutbound{stream: stream})

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), int(g.maxFrame))
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		frame := make([]byte, len(raw))
		copy(frame, raw)
		g.router.HandleMessage(client, frame)
	}
	g.router.Disconnect(client, "connection closed")
}

// quicOutbound adapts a QUIC stream to the registry's send handle. Frames
// are newline-delimited; the envelope JSON never contains raw newlines.
type quicOutbound struct {
	stream *quic.Stream
	mu     sync.Mutex
}

func (o *quicOutbound) Send(data []byte, deadline time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stream.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	if _, err := o.stream.Write(data); err != nil {
		return err
	}
	_, err := o.stream.Write([]byte{'\n'})
	return err
}

func (o *quicOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream.Close()
}
