package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mfridman/xflag"
	"github.com/pressly/ephemeral"

	// Register every built-in service.
	_ "github.com/pressly/ephemeral/pkg/service/all"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitSkipped = 3
)

const defaultEnvFile = ".env"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type globalFlags struct {
	envFile string
	debug   bool
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, st *state, args []string) int
}

// state is shared by every command.
type state struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

var commands = []command{
	{name: "run", summary: "Start a service and run a command against it", run: runCmd},
	{name: "list", summary: "List the registered services", run: listCmd},
	{name: "prune", summary: "Remove containers left behind by earlier runs", run: pruneCmd},
	{name: "version", summary: "Print the ephemeral version", run: versionCmd},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var g globalFlags
	flags := flag.NewFlagSet("ephemeral", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&g.envFile, "env", defaultEnvFile, "load environment variables from this file")
	flags.BoolVar(&g.debug, "debug", false, "log debug output to stderr")
	flags.Usage = func() { usage(flags, stderr) }
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if err := loadEnvFile(g.envFile, isFlagSet(flags, "env")); err != nil {
		fmt.Fprintf(stderr, "ephemeral: %v\n", err)
		return exitFailed
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}
	name, rest := flags.Arg(0), flags.Args()[1:]
	for _, c := range commands {
		if c.name == name {
			st := &state{
				stdout: stdout,
				stderr: stderr,
				logger: newLogger(stderr, g.debug),
			}
			return c.run(ctx, st, rest)
		}
	}
	fmt.Fprintf(stderr, "ephemeral: unknown command %q\n", name)
	flags.Usage()
	return exitUsage
}

// loadEnvFile loads path into the process environment without overriding variables that are
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if v, _ := strconv.ParseBool(os.Getenv(ephemeral.EnvDebug)); debug || v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseCommandFlags parses flags anywhere in args, stopping at "--".
func parseCommandFlags(flags *flag.FlagSet, args []string) error {
	return xflag.ParseToEnd(flags, args)
}

func isFlagSet(flags *flag.FlagSet, name string) bool {
	var set bool
	flags.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func usage(flags *flag.FlagSet, w io.Writer) {
	fmt.Fprint(w, usagePrefix)
	flags.PrintDefaults()
	fmt.Fprint(w, "\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s%s\n", c.name, c.summary)
	}
	fmt.Fprint(w, usageSuffix)
}

const usagePrefix = `Usage: ephemeral [OPTIONS] COMMAND [ARGS]

Options:
`

const usageSuffix = `
Examples:
  ephemeral list
  ephemeral run postgres
  ephemeral run -tag 15-alpine postgres -- psql '${conninfo}' -c 'select 1'
  ephemeral run -o user=app -o password=secret mysql -- go test ./...
  ephemeral prune

Environment:
  EPHEMERAL_RUNTIME        container runtime: cli (default) or engine
  EPHEMERAL_DOCKER         docker binary used by the cli runtime
  EPHEMERAL_READY_TIMEOUT  readiness deadline, e.g. 90s
  EPHEMERAL_PULL           always (default) or missing
  EPHEMERAL_DEBUG          log debug output
`
