package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/otheng03/nbase-arc/internal/cluster/state"
	"github.com/otheng03/nbase-arc/internal/command"
	"github.com/otheng03/nbase-arc/internal/config"
	"github.com/otheng03/nbase-arc/internal/gateway"
	"github.com/otheng03/nbase-arc/internal/httpapi"
	"github.com/otheng03/nbase-arc/internal/lock"
	"github.com/otheng03/nbase-arc/internal/metrics"
	"github.com/otheng03/nbase-arc/internal/probe"
	"github.com/otheng03/nbase-arc/internal/protocol"
	"github.com/otheng03/nbase-arc/internal/store"
	"github.com/otheng03/nbase-arc/internal/workflow"
	"github.com/otheng03/nbase-arc/internal/worklog"
)

var (
	defaults = config.DefaultConfig()

	adminAddr       = flag.String("addr", defaults.AdminAddr, "admin command address")
	httpAddr        = flag.String("http-addr", defaults.HTTPAddr, "http api and metrics address (empty disables)")
	dataDir         = flag.String("data-dir", defaults.DataDir, "metadata directory (empty keeps it in memory)")
	probeTimeout    = flag.Duration("probe-timeout", defaults.ProbeTimeout, "replica and gateway call timeout")
	maxCascade      = flag.Int("max-cascade", defaults.MaxCascade, "follow-up workflow runs per cascading call")
	metricsInterval = flag.Duration("metrics-interval", defaults.MetricsInterval, "gauge refresh period")
	verbosity       = flag.Int("v", 0, "log verbosity")

	// CLI flags
	cliMode = flag.Bool("cli", false, "run in CLI mode")
	cliHost = flag.String("h", "127.0.0.1", "confmaster host (CLI mode)")
	cliPort = flag.Int("p", 1122, "confmaster port (CLI mode)")
)

func main() {
	flag.Parse()

	if *cliMode {
		runCLI(*cliHost, *cliPort, flag.Args())
		return
	}

	stdr.SetVerbosity(*verbosity)
	logger := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags|stdlog.Lmicroseconds)).WithName("confmaster")

	cfg := &config.Config{
		AdminAddr:       *adminAddr,
		HTTPAddr:        *httpAddr,
		DataDir:         *dataDir,
		ProbeTimeout:    *probeTimeout,
		MaxCascade:      *maxCascade,
		MetricsInterval: *metricsInterval,
		ShutdownTimeout: defaults.ShutdownTimeout,
	}
	if err := cfg.Validate(); err != nil {
		logger.Error(err, "invalid configuration")
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error(err, "confmaster stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logr.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.OpenBadger(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error(err, "close store")
		}
	}()

	cache := state.NewCache(s, logger)
	if err := cache.Load(ctx); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	cache.Start(ctx)
	defer cache.Stop()

	wl := worklog.New(s, logger)
	if err := wl.Load(ctx); err != nil {
		return fmt.Errorf("load work log: %w", err)
	}

	client := probe.NewClient(cfg.ProbeTimeout)
	notifier := gateway.NewNotifier(client, s, cache, cfg.ProbeTimeout, logger)

	engine := workflow.New(workflow.Deps{
		Cache:        cache,
		Store:        s,
		Prober:       client,
		Notifier:     notifier,
		WorkLog:      wl,
		Logger:       logger,
		ProbeTimeout: cfg.ProbeTimeout,
		MaxCascade:   cfg.MaxCascade,
	})

	registry := command.New(command.Deps{
		Cache:    cache,
		Store:    s,
		Locks:    lock.NewManager(cache),
		Engine:   engine,
		Gateways: notifier,
		WorkLog:  wl,
		Logger:   logger,
	})

	exporter := metrics.NewExporter(cache, cfg.MetricsInterval)
	go exporter.Run(ctx)

	errCh := make(chan error, 2)

	admin := protocol.NewServer(cfg.AdminAddr, registry, logger)
	go func() {
		if err := admin.Start(); err != nil {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		api := httpapi.New(registry, cache, wl, exporter.Handler())
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: api.Handler()}
		go func() {
			logger.Info("http api listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
	}

	if httpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "stop http server")
		}
		done()
	}
	if err := admin.Stop(); err != nil {
		logger.Error(err, "stop admin server")
	}
	return runErr
}

func runCLI(host string, port int, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: confmaster -cli -h <host> -p <port> <command> [args...]")
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		fmt.Printf("Error connecting to %s:%d: %v\n", host, port, err)
		os.Exit(1)
	}
	defer conn.Close()

	var req strings.Builder
	req.WriteString(fmt.Sprintf("*%d\r\n", len(args)))
	for _, arg := range args {
		req.WriteString(fmt.Sprintf("$%d\r\n%s\r\n", len(arg), arg))
	}

	if _, err := conn.Write([]byte(req.String())); err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}

	reply, err := readReply(bufio.NewReader(conn))
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(reply)
}

// readReply reads one status, error or bulk reply.
func readReply(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty reply")
	}

	switch line[0] {
	case '+', ':':
		return line[1:], nil
	case '-':
		return "(error) " + line[1:], nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", fmt.Errorf("bad bulk length %q", line)
		}
		if n < 0 {
			return "(nil)", nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	default:
		return line, nil
	}
}
