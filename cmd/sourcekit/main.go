package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sourcekit/internal/infra/config"
	"sourcekit/internal/infra/logger"
	"sourcekit/internal/infra/tracer"
)

func main() {
	cfgPath, args := splitGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		showUsage(os.Stdout)
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage(os.Stdout)
		return
	case "doctor":
		if err := runDoctor(cfgPath, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
		return
	case "serve", "repo", "ext":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'sourcekit help' for usage information.\n", args[0])
		os.Exit(1)
	}

	if err := run(cfgPath, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

// run loads config, wires the runtime and executes one command.
func run(cfgPath string, args []string, out io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, cleanup, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	switch args[0] {
	case "serve":
		return runServe(ctx, a)
	case "repo":
		return runRepo(ctx, a, args[1:], out)
	default:
		return runExt(ctx, a, args[1:], out)
	}
}

// splitGlobalFlags removes --config from args. SOURCEKIT_CONFIG is the
// fallback, then ./sourcekit.yaml.
func splitGlobalFlags(args []string) (cfgPath string, rest []string) {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			cfgPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			cfgPath = strings.TrimPrefix(args[i], "--config=")
		default:
			rest = append(rest, args[i])
		}
	}
	if cfgPath == "" {
		cfgPath = os.Getenv("SOURCEKIT_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "sourcekit.yaml"
	}
	return cfgPath, rest
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `sourcekit - content-source extension runtime

USAGE:
    sourcekit [--config PATH] <COMMAND> [ARGS]

COMMANDS:
    serve                                Run the runtime: bridge, scheduler, event log
    repo list [--refresh]                List extensions offered by the repositories
    repo search <query>                  Search repository listings
    repo install <id>                    Install an extension
    repo update [id]                     Update one or all installed extensions
    repo remove <id>                     Remove an installed extension
    ext list                             List installed and sideloaded extensions
    ext sections <id>                    Print an extension's home page sections
    ext search <id|--all> <query>        Search one extension or every extension
    ext chapters <id> <mangaId>          Print a title's chapters
    ext pages <id> <mangaId> <chapterId> Print a chapter's page locators
    ext unscramble <locator> <out>       Resolve a page locator to an image file
    doctor                               Run health checks on your setup
    help                                 Show this help message

CONFIGURATION:
    Config file: ./sourcekit.yaml (or --config, or SOURCEKIT_CONFIG)
    Environment: SOURCEKIT_* variables override config`)
}
