package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"list": {
			name:        "list",
			description: "List tickets in the registry",
			run:         runList,
		},
		"inspect": {
			name:        "inspect",
			description: "Show one ticket, its chain and its encoded size",
			run:         runInspect,
		},
		"expire": {
			name:        "expire",
			description: "Mark a granting ticket expired (its descendants become invalid)",
			run:         runExpire,
		},
		"destroy": {
			name:        "destroy",
			description: "Log out a granting ticket and remove its service tickets",
			run:         runDestroy,
		},
		"sweep": {
			name:        "sweep",
			description: "Run one expiration sweep now",
			run:         runSweep,
		},
		"stats": {
			name:        "stats",
			description: "Count tickets by kind and validity",
			run:         runStats,
		},
		"migrate": {
			name:        "migrate",
			description: "Run Postgres registry migrations",
			run:         runMigrations,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: ticket-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-12s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}
