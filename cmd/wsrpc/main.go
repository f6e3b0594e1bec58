package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"wsjsonrpc/internal/adapter/wsrpc"
	"wsjsonrpc/internal/domain"
	"wsjsonrpc/internal/infra/config"
	"wsjsonrpc/internal/infra/logger"
	"wsjsonrpc/internal/infra/tracer"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "fatal: [%s] %v\n", domain.ErrorCodeOf(err), err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`wsrpc - JSON-RPC 2.0 over WebSocket client

USAGE:
    wsrpc COMMAND [FLAGS] [ARGS]

COMMANDS:
    call METHOD [PARAM...]     Issue one call and print the result
    poll METHOD [PARAM...]     Issue the call every --interval until interrupted
    listen [METHOD...]         Print server notifications until interrupted
    encrypt VALUE              Encrypt a secret for the config file (needs WSRPC_CONFIG_KEY)
    help                       Show this help message

    PARAMs are sent as JSON when they parse as JSON, otherwise as strings.

FLAGS:
    --config PATH       Config file path (default: ./wsrpc.yaml)
    --endpoint URL      Server endpoint, ws:// or wss://
    --timeout DURATION  Per-call timeout (minimum 100ms, default 10s)
    --secret SECRET     RPC secret, sent as "token:SECRET" before other params
    --interval DURATION Poll interval (default 5s)

CONFIGURATION:
    Config file: ./wsrpc.yaml
    Environment: WSRPC_* variables override config

EXAMPLES:
    wsrpc call system.listNotifications
    wsrpc call --secret s3cret aria2.tellActive '["gid","status"]'
    wsrpc poll --interval 2s aria2.getGlobalStat
    wsrpc listen aria2.onDownloadComplete aria2.onDownloadError`)
}

// cliFlags holds flags that override the config file.
type cliFlags struct {
	ConfigPath string
	Endpoint   string
	Secret     string
	Timeout    time.Duration
	Interval   time.Duration
}

// parseArgs splits args into flags and positional arguments. Only "--" flags
// are recognised so negative numbers pass through as params; a bare "--"
// ends flag parsing.
func parseArgs(args []string) (cliFlags, []string, error) {
	var flags cliFlags
	var rest []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			value = args[i]
		}

		switch name {
		case "config":
			flags.ConfigPath = value
		case "endpoint":
			flags.Endpoint = value
		case "secret":
			flags.Secret = value
		case "timeout", "interval":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return flags, nil, fmt.Errorf("flag --%s: invalid duration %q", name, value)
			}
			if name == "timeout" {
				flags.Timeout = d
			} else {
				flags.Interval = d
			}
		default:
			return flags, nil, fmt.Errorf("unknown flag --%s", name)
		}
	}
	return flags, rest, nil
}

func configPath(flags cliFlags) string {
	if flags.ConfigPath != "" {
		return flags.ConfigPath
	}
	if p := os.Getenv("WSRPC_CONFIG"); p != "" {
		return p
	}
	return "wsrpc.yaml"
}

// app is the wired client: config, logger, tracer and engine options.
type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer
}

func newApp(flags cliFlags, out io.Writer) (*app, func(), error) {
	cfg, err := config.Load(configPath(flags), flags.apply)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, fmt.Errorf("tracer: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return &app{cfg: cfg, log: log, out: out}, cleanup, nil
}

// apply overrides config values with the flags that were given.
func (flags cliFlags) apply(cfg *config.Config) {
	if flags.Endpoint != "" {
		cfg.Client.Endpoint = flags.Endpoint
	}
	if flags.Secret != "" {
		cfg.Client.Secret = flags.Secret
	}
	if flags.Timeout > 0 {
		cfg.Client.RequestTimeout = flags.Timeout
	}
	if flags.Interval > 0 {
		cfg.Client.PollInterval = flags.Interval
	}
}

func (a *app) options() []wsrpc.Option {
	c := a.cfg.Client
	opts := []wsrpc.Option{
		wsrpc.WithRequestTimeout(c.RequestTimeout),
		wsrpc.WithWriteTimeout(c.WriteTimeout),
		wsrpc.WithLogger(logger.Component(a.log, "wsrpc")),
		wsrpc.WithDialer(&wsrpc.WebSocketDialer{ReadLimit: c.ReadLimit}),
	}
	if c.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, wsrpc.WithRateLimit(rate.Limit(c.RateLimit.RequestsPerSecond), c.RateLimit.Burst))
	}
	return opts
}

func run(ctx context.Context, command string, args []string, out io.Writer) error {
	if command == "encrypt" {
		return runEncrypt(args, out)
	}

	flags, rest, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch command {
	case "call", "poll":
		if len(rest) == 0 {
			return fmt.Errorf("%s: METHOD is required", command)
		}
	case "listen":
	default:
		return fmt.Errorf("unknown command: %s (run 'wsrpc help' for usage)", command)
	}

	a, cleanup, err := newApp(flags, out)
	if err != nil {
		return err
	}
	defer cleanup()

	switch command {
	case "call":
		return a.runCall(ctx, rest[0], rest[1:])
	case "poll":
		return a.runPoll(ctx, rest[0], rest[1:])
	default:
		return a.runListen(ctx, rest)
	}
}

func runEncrypt(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("encrypt: exactly one VALUE is required")
	}
	passphrase := os.Getenv("WSRPC_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("encrypt: WSRPC_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	_, err = fmt.Fprintf(out, "enc:%s\n", enc)
	return err
}
