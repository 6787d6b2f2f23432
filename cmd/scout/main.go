package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"datascout/internal/infra/config"
	"datascout/internal/infra/logger"
	"datascout/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "resume":
		err = resumeCmd(os.Args[2:])
	case "pipeline":
		err = pipelineCmd(os.Args[2:])
	case "runs":
		err = runsCmd()
	case "encrypt":
		err = encryptCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'scout --help' for usage.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`scout - agent-driven data exploration

USAGE:
    scout COMMAND [ARGS]

COMMANDS:
    run PERSONA PROMPT     Start a fresh run with the named persona
                           (built-in: explorer, coder, designer)
    resume RUN_ID          Resume an interrupted run from its last checkpoint
    pipeline PROMPT        Run explorer -> coder -> designer, feeding each
                           stage's summary and discoveries into the next
    runs                   List checkpointed runs
    encrypt VALUE          Encrypt a config secret with DATASCOUT_CONFIG_KEY

FLAGS:
    --config PATH          Config file path (default: ./config.yaml)
    -h, --help             Show this help

CONFIGURATION:
    Config file: ./config.yaml
    Environment: DATASCOUT_* variables override config

EXAMPLES:
    scout run explorer "map out the data directory"
    scout pipeline "analyze sales.csv and build a report page"
    scout resume 01J8ZK3V9GQ4T6WXYB2M5N7R8S`)
}

// configPath resolves the config file location from --config, the
// environment, or the default.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("DATASCOUT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// stripFlags removes --config (and its value) from positional args.
func stripFlags(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" {
			i++
			continue
		}
		if strings.HasPrefix(args[i], "--config=") {
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// bootstrap loads config and sets up the logger and tracer. The returned
// cleanup must be deferred by the caller.
func bootstrap(ctx context.Context) (*appContext, func(), error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = logCloser()
		return nil, nil, fmt.Errorf("tracer: %w", err)
	}

	cleanup := func() {
		_ = tracerShutdown(context.Background())
		_ = logCloser()
	}
	return &appContext{Config: cfg, Logger: log}, cleanup, nil
}

// notifyStop installs signal handling: the first SIGINT/SIGTERM requests a
// cooperative stop, a second one cancels the context outright.
func notifyStop(ctx context.Context, stop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "stopping at next iteration boundary (interrupt again to abort)")
			stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
