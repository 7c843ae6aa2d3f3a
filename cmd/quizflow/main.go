// Command quizflow runs quizflow services against a NATS server.
//
// Usage:
//
//	quizflow -config quizflow.yaml
//	quizflow -roles quiz,generation -nats nats://nats:4222
//	quizflow -embedded -store-dir ./data
//
// With -embedded the command starts its own JetStream server and runs every
// service in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/quizflow"
	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	qftest "github.com/arloliu/quizflow/testing"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML configuration file (optional)")
		roles       = flag.String("roles", "", "Comma-separated roles to run, overrides the config file")
		natsURL     = flag.String("nats", "", "NATS server URL (default $NATS_URL or "+nats.DefaultURL+")")
		embedded    = flag.Bool("embedded", false, "Start an embedded JetStream server")
		storeDir    = flag.String("store-dir", "", "JetStream storage directory for -embedded (default: temp dir)")
		metricsAddr = flag.String("metrics-addr", ":9090", "Address serving /metrics, empty to disable")
	)
	flag.Parse()

	if err := run(*configPath, *roles, *natsURL, *embedded, *storeDir, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "quizflow: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, roles, natsURL string, embedded bool, storeDir, metricsAddr string) error {
	cfg := quizflow.DefaultConfig()
	if configPath != "" {
		loaded, err := quizflow.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if roles != "" {
		cfg.Roles = nil
		for _, r := range strings.Split(roles, ",") {
			cfg.Roles = append(cfg.Roles, quizflow.Role(strings.TrimSpace(r)))
		}
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return err
	}

	url, shutdownServer, err := natsEndpoint(natsURL, embedded, storeDir)
	if err != nil {
		return err
	}
	defer shutdownServer()

	nc, err := nats.Connect(url,
		nats.Name("quizflow"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer nc.Close()

	mc := metrics.NewPrometheus(prometheus.DefaultRegisterer, "quizflow")

	node, err := quizflow.NewNode(&cfg, nc,
		quizflow.WithLogger(logger),
		quizflow.WithMetrics(mc),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", metricsAddr)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	return node.Stop(shutdownCtx)
}

// natsEndpoint returns the URL to connect to, starting an embedded server when
// asked. The returned func shuts the embedded server down.
func natsEndpoint(natsURL string, embedded bool, storeDir string) (string, func(), error) {
	if !embedded {
		if natsURL == "" {
			natsURL = os.Getenv("NATS_URL")
		}
		if natsURL == "" {
			natsURL = nats.DefaultURL
		}

		return natsURL, func() {}, nil
	}

	cleanup := func() {}
	if storeDir == "" {
		dir, err := os.MkdirTemp("", "quizflow-js-")
		if err != nil {
			return "", nil, fmt.Errorf("create store dir: %w", err)
		}
		storeDir = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	}

	ns, err := qftest.NewEmbeddedServer(storeDir, -1)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	return ns.ClientURL(), func() {
		shutdown(ns)
		cleanup()
	}, nil
}

func shutdown(ns *server.Server) {
	ns.Shutdown()
	ns.WaitForShutdown()
}
