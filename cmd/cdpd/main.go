// Command cdpd serves a small devtools-style protocol over WebSocket and TCP.
//
// Domains:
//
//	System.getInfo                  daemon and session info
//	System.echo {message, delayMs}  echoes, and emits System.echoed first
//	Target.createSession            opens a session multiplexed on the connection
//	Target.closeSession {sessionId}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/risa-org/cdp/config"
	"github.com/risa-org/cdp/metrics"
	"github.com/risa-org/cdp/serializer"
	"github.com/risa-org/cdp/session"
	"github.com/risa-org/cdp/transport"
	"github.com/risa-org/cdp/transport/tcp"
	"github.com/risa-org/cdp/transport/websocket"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	wsAddr := flag.String("ws", "", "override websocket_addr")
	tcpAddr := flag.String("tcp", "", "override tcp_addr")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *wsAddr != "" {
		cfg.WebSocketAddr = *wsAddr
	}
	if *tcpAddr != "" {
		cfg.TCPAddr = *tcpAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cdpd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	opts, err := connectionOptions(cfg, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.WebSocketAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocketPath, websocket.Handler(func(r *http.Request, a *websocket.Adapter) {
			serve(ctx, a, r.RemoteAddr, logger, opts)
		}, nil))
		srv := &http.Server{Addr: cfg.WebSocketAddr, Handler: mux}
		g.Go(func() error { return serveHTTP(ctx, srv, logger, "websocket") })
	}

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			return fmt.Errorf("listen tcp %s: %w", cfg.TCPAddr, err)
		}
		logger.Info("listening", zap.String("transport", "tcp"), zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			<-ctx.Done()
			return ln.Close()
		})
		g.Go(func() error { return acceptTCP(ctx, ln, logger, opts) })
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error { return serveHTTP(ctx, srv, logger, "metrics") })
	}

	return g.Wait()
}

func connectionOptions(cfg config.Config, logger *zap.Logger) ([]session.Option, error) {
	ser, ok := serializer.ByName(cfg.Serializer)
	if !ok {
		return nil, fmt.Errorf("unsupported serializer %q", cfg.Serializer)
	}

	opts := []session.Option{
		session.WithSerializer(ser),
		session.WithLogger(logger),
		session.WithStackCapture(cfg.CaptureStacks),
		session.WithMiddleware(session.LoggingMiddleware(logger)),
	}
	if cfg.HandlerTimeout > 0 {
		opts = append(opts, session.WithMiddleware(session.TimeoutMiddleware(cfg.HandlerTimeout)))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, session.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector("cdpd")
		if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, session.WithObserver(collector))
	}
	return opts, nil
}

// serve runs one connection until its transport ends or ctx is done.
// Listener shutdown does not reach accepted or hijacked connections, so
// they are closed here.
func serve(ctx context.Context, t transport.Adapter, remote string, logger *zap.Logger, opts []session.Option) {
	log := logger.With(zap.String("remote", remote))
	conn := session.NewServerConnection(t, append(opts[:len(opts):len(opts)], session.WithLogger(log))...)
	install(conn, conn.Root())

	log.Info("connection opened")
	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
	}
	log.Info("connection closed", zap.Error(conn.Err()))
}

func acceptTCP(ctx context.Context, ln net.Listener, logger *zap.Logger, opts []session.Option) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serve(ctx, tcp.New(c), c.RemoteAddr().String(), logger, opts)
	}
}

func serveHTTP(ctx context.Context, srv *http.Server, logger *zap.Logger, name string) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("transport", name), zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
