// Command clearnode-cli connects to a ClearNode and runs queries against it.
//
// Usage:
//
//	clearnode-cli [flags]
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-url string             Node WebSocket URL (overrides the config file)
//	-private-key string     Wallet private key, hex (default $CLEARNODE_PRIVATE_KEY)
//	-log-level string       Log level: debug, info, warn, error
//	-log-format string      Log format: text, json
//	-protocol-log string    Write a protocol trace to this file (.clog)
//	-metrics-listen string  Serve Prometheus metrics on this address
//	-interactive            Start the interactive shell (default true)
//
// Examples:
//
//	# Connect with a config file and open the shell
//	clearnode-cli -config clearnode.yaml
//
//	# Connect, record a protocol trace and expose metrics
//	clearnode-cli -url wss://clearnet.example.com/ws -protocol-log session.clog -metrics-listen :9100
//
// Interactive Commands:
//
//	connect     - Connect and authenticate
//	channels    - List channels
//	balances    - Show ledger balances of an account
//	config      - Show node configuration
//	summary     - Channels with balances of open channels
//	watch       - Poll balances of an account
//	disconnect  - Close the connection
//	state       - Show client state
//	quit        - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookpay/clearnode-go/cmd/clearnode-cli/interactive"
	"github.com/hookpay/clearnode-go/pkg/clearnode"
	"github.com/hookpay/clearnode-go/pkg/config"
	"github.com/hookpay/clearnode-go/pkg/log"
	"github.com/hookpay/clearnode-go/pkg/signer"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// Flags holds the command-line flags.
type Flags struct {
	ConfigFile    string
	URL           string
	PrivateKey    string
	LogLevel      string
	LogFormat     string
	ProtocolLog   string
	MetricsListen string
	Interactive   bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.URL, "url", "", "Node WebSocket URL (overrides the config file)")
	flag.StringVar(&flags.PrivateKey, "private-key", os.Getenv("CLEARNODE_PRIVATE_KEY"), "Wallet private key, hex")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format: text, json")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol trace to this file (.clog)")
	flag.StringVar(&flags.MetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&flags.Interactive, "interactive", true, "Start the interactive shell")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var shell *interactive.Shell
	out := io.Writer(os.Stderr)
	if flags.Interactive {
		shell, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out = shell.Stdout()
		color.Output = shell.Stdout()
		color.Error = shell.Stderr()
	}

	logger := setupLogging(cfg.Logging, out)
	slog.SetDefault(logger)

	wallet, err := loadWallet(cfg.PrivateKey, logger)
	if err != nil {
		fatal(logger, "invalid private key", err)
	}
	clientCfg := clearnode.ConfigFrom(cfg)
	if cfg.SessionKey != "" {
		session, err := signer.NewWallet(cfg.SessionKey)
		if err != nil {
			fatal(logger, "invalid session key", err)
		}
		clientCfg.SessionKey = session.Address()
	}

	opts := []clearnode.Option{
		clearnode.WithLogger(logger),
		clearnode.WithObserver(eventPrinter()),
	}

	protoLogger, closeProto, err := setupProtocolLog(cfg.Logging, logger)
	if err != nil {
		fatal(logger, "cannot open protocol log", err)
	}
	defer closeProto()
	if protoLogger != nil {
		opts = append(opts, clearnode.WithProtocolLogger(protoLogger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		metrics, err := clearnode.NewMetrics(reg)
		if err != nil {
			fatal(logger, "cannot register metrics", err)
		}
		opts = append(opts, clearnode.WithMetrics(metrics))
		go serveMetrics(ctx, cfg.Metrics, reg, logger)
	}

	client, err := clearnode.New(clientCfg, wallet, opts...)
	if err != nil {
		fatal(logger, "cannot create client", err)
	}
	defer client.Close()

	logger.Info("starting", "url", cfg.URL, "address", wallet.Address(), "session_key", client.SessionKey())

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Timeout.Connection+cfg.Timeout.Request)
	if err := client.Connect(connectCtx); err != nil {
		logger.Error("connect failed", "error", err)
	}
	connectCancel()

	if shell != nil {
		go shell.Run(ctx, cancel, client)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := client.Disconnect(); err != nil && !errors.Is(err, clearnode.ErrClientClosed) {
		logger.Warn("disconnect failed", "error", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.URL != "" {
		cfg.URL = flags.URL
	}
	if flags.PrivateKey != "" {
		cfg.PrivateKey = flags.PrivateKey
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.Logging.Format = flags.LogFormat
	}
	if flags.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = flags.ProtocolLog
	}
	if flags.MetricsListen != "" {
		cfg.Metrics.Listen = flags.MetricsListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func loadWallet(key string, logger *slog.Logger) (*signer.Wallet, error) {
	if key == "" {
		logger.Warn("no private key configured, using a throwaway wallet")
		return signer.GenerateWallet()
	}
	return signer.NewWallet(key)
}

// setupProtocolLog opens the trace file and, at debug level, mirrors the
// trace to slog.
func setupProtocolLog(cfg config.LoggingConfig, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, closeFn, err
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
		}
		logger.Info("recording protocol trace", "path", cfg.ProtocolLog)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	multi := log.NewMultiLogger(loggers...)
	if multi.Len() == 0 {
		return nil, closeFn, nil
	}
	return multi, closeFn, nil
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", cfg.Listen, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func eventPrinter() clearnode.Observer {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	return clearnode.ObserverFuncs{
		Connecting:    func() { gray.Println("[EVENT] connecting") },
		Connected:     func() { cyan.Println("[EVENT] connected, authenticating") },
		Authenticated: func() { green.Println("[EVENT] authenticated") },
		Disconnected: func(code int, reason string) {
			yellow.Printf("[EVENT] disconnected (%d %s)\n", code, reason)
		},
		Reconnecting: func(attempt int, delay time.Duration) {
			yellow.Printf("[EVENT] reconnecting, attempt %d in %s\n", attempt, delay)
		},
		Error: func(err error) { red.Printf("[ERROR] %v\n", err) },
		Message: func(resp *wire.Response) {
			if resp.Method.IsPush() {
				cyan.Printf("[PUSH] %s %s\n", resp.Method, string(resp.Params))
			}
		},
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
