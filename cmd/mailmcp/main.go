package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/mailmcp/internal/config"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *ffcli.Command {
	rootFlagSet := flag.NewFlagSet("mailmcp", flag.ContinueOnError)
	configPath := rootFlagSet.String("config", config.DefaultPath, "path to the config file (TOML, YAML or JSON)")
	envOptions := []ff.Option{ff.WithEnvVarPrefix(config.EnvPrefix)}

	serveFlagSet := flag.NewFlagSet("mailmcp serve", flag.ContinueOnError)
	serveCmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "mailmcp serve",
		ShortHelp:  "Serve MCP tools over streamable HTTP",
		LongHelp: `Serve the mail tools over streamable HTTP at /mcp.

The same listener exposes:
  /api/stream   server-sent events for every dispatched message (?email= filters)
  /health       liveness
  /ready        database readiness
  /metrics      Prometheus metrics

With sink.enabled the capture SMTP server runs alongside.`,
		FlagSet: serveFlagSet,
		Options: envOptions,
		Exec: func(ctx context.Context, _ []string) error {
			a, err := newApp(ctx, *configPath, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, Version)
		},
	}

	stdioFlagSet := flag.NewFlagSet("mailmcp stdio", flag.ContinueOnError)
	stdioCmd := &ffcli.Command{
		Name:       "stdio",
		ShortUsage: "mailmcp stdio",
		ShortHelp:  "Serve MCP tools over stdio",
		LongHelp: `Serve the mail tools on stdin/stdout for a single MCP client.

Logs go to stderr, or to log.file when set, since stdout carries the protocol.`,
		FlagSet: stdioFlagSet,
		Options: envOptions,
		Exec: func(ctx context.Context, _ []string) error {
			a, err := newApp(ctx, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.stdio(ctx, Version)
		},
	}

	sinkFlagSet := flag.NewFlagSet("mailmcp sink", flag.ContinueOnError)
	sinkAddr := sinkFlagSet.String("addr", "", "listen address (overrides sink.addr)")
	sinkCmd := &ffcli.Command{
		Name:       "sink",
		ShortUsage: "mailmcp sink [-addr host:port]",
		ShortHelp:  "Run only the capture SMTP server",
		LongHelp: `Accept and log mail without relaying it. Point mailer.smtp_host and
mailer.smtp_port at the sink to exercise delivery locally.`,
		FlagSet: sinkFlagSet,
		Options: envOptions,
		Exec: func(ctx context.Context, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			level, err := cfg.SlogLevel()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			sinkCfg, err := cfg.SinkConfig()
			if err != nil {
				return err
			}
			if *sinkAddr != "" {
				sinkCfg.Addr = *sinkAddr
			}
			if sinkCfg.Username != "" && sinkCfg.Password != "" {
				logger.Info("smtp auth enabled", "username", sinkCfg.Username)
			} else {
				logger.Warn("smtp auth disabled; sink accepts unauthenticated connections")
			}

			g, ctx := errgroup.WithContext(ctx)
			runSink(ctx, g, sinkCfg, logger)
			return g.Wait()
		},
	}

	versionCmd := &ffcli.Command{
		Name:       "version",
		ShortUsage: "mailmcp version",
		ShortHelp:  "Print the version",
		Exec: func(context.Context, []string) error {
			fmt.Println(Version)
			return nil
		},
	}

	rootHelp := `mailmcp - address-book-backed email dispatch over MCP

Commands:
  serve    Serve MCP tools over streamable HTTP
  stdio    Serve MCP tools over stdio
  sink     Run only the capture SMTP server
  version  Print the version

Flags may also be set as MAILMCP_<FLAG> environment variables.`

	return &ffcli.Command{
		ShortUsage:  "mailmcp [-config path] <command> [flags]",
		ShortHelp:   "Address-book-backed email dispatch over MCP",
		LongHelp:    rootHelp,
		FlagSet:     rootFlagSet,
		Options:     envOptions,
		Subcommands: []*ffcli.Command{serveCmd, stdioCmd, sinkCmd, versionCmd},
		Exec: func(context.Context, []string) error {
			fmt.Fprintln(os.Stderr, rootHelp)
			return errors.New("no command given")
		},
	}
}
