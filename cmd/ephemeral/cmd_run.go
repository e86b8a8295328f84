package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/mfridman/interpolate"
	"github.com/pressly/ephemeral"
)

const envPrefix = "EPHEMERAL_"

type runFlags struct {
	tag     string
	name    string
	pull    string
	timeout time.Duration
	options map[string]string
}

func runCmd(ctx context.Context, st *state, args []string) int {
	f := runFlags{options: make(map[string]string)}
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetOutput(st.stderr)
	flags.StringVar(&f.tag, "tag", "", "image tag to run instead of the service default")
	flags.StringVar(&f.name, "name", "", "container name (default: generated)")
	flags.StringVar(&f.pull, "pull", "", "pull policy: always or missing")
	flags.DurationVar(&f.timeout, "timeout", 0, "how long the service may take to become ready")
	flags.Func("o", "service option as key=value (repeatable)", func(s string) error {
		key, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("want key=value, got %q", s)
		}
		f.options[strings.TrimSpace(key)] = value
		return nil
	})
	flags.Usage = func() {
		fmt.Fprint(st.stderr, "Usage: ephemeral run [OPTIONS] SERVICE [-- COMMAND [ARGS]]\n\nOptions:\n")
		flags.PrintDefaults()
	}
	if err := parseCommandFlags(flags, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(st.stderr, "ephemeral run: missing service name")
		flags.Usage()
		return exitUsage
	}
	serviceID, cmdArgs := flags.Arg(0), flags.Args()[1:]
	if len(cmdArgs) > 0 && cmdArgs[0] == "--" {
		cmdArgs = cmdArgs[1:]
	}

	opts := []ephemeral.Option{
		ephemeral.WithLogger(st.logger),
		ephemeral.WithReporter(ephemeral.NewLogReporter(st.logger)),
	}
	if len(f.options) > 0 {
		opts = append(opts, ephemeral.WithServiceOptions(f.options))
	}
	if f.tag != "" {
		opts = append(opts, ephemeral.WithTag(f.tag))
	}
	if f.name != "" {
		opts = append(opts, ephemeral.WithRunName(f.name))
	}
	if f.pull != "" {
		opts = append(opts, ephemeral.WithPullPolicy(f.pull))
	}
	if f.timeout != 0 {
		opts = append(opts, ephemeral.WithTimeout(f.timeout))
	}

	var body ephemeral.Body
	if len(cmdArgs) == 0 {
		body = printAndWait(st.stdout)
	} else {
		body = execCommand(cmdArgs, st.stdout, st.stderr)
	}
	out := ephemeral.Run(ctx, serviceID, body, opts...)
	switch out.Status {
	case ephemeral.Succeeded:
		return exitOK
	case ephemeral.Skipped:
		return exitSkipped
	default:
		var exitErr *exec.ExitError
		if errors.As(out.Err, &exitErr) && exitErr.ExitCode() > 0 {
			return exitErr.ExitCode()
		}
		return exitFailed
	}
}

// printAndWait prints the connection data and keeps the service running until ctx is done.
func printAndWait(w io.Writer) ephemeral.Body {
	return func(ctx context.Context, data ephemeral.ConnectionData) error {
		for _, kv := range dataEnviron(data) {
			fmt.Fprintln(w, kv)
		}
		fmt.Fprintln(w, "# service is ready, press CTRL+C to stop")
		<-ctx.Done()
		return nil
	}
}

// execCommand runs args with the connection data exported as EPHEMERAL_<KEY> variables. ${key}
// references in args are expanded from the connection data, then from the environment.
func execCommand(args []string, stdout, stderr io.Writer) ephemeral.Body {
	return func(ctx context.Context, data ephemeral.ConnectionData) error {
		expanded, err := expandArgs(args, data)
		if err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, expanded[0], expanded[1:]...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.Env = append(os.Environ(), dataEnviron(data)...)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("command %s: %w", expanded[0], err)
		}
		return nil
	}
}

func expandArgs(args []string, data ephemeral.ConnectionData) ([]string, error) {
	env := dataEnv{data: data}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		s, err := interpolate.Interpolate(env, arg)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", arg, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// dataEnviron returns data as sorted EPHEMERAL_<KEY>=value pairs.
func dataEnviron(data ephemeral.ConnectionData) []string {
	environ := make([]string, 0, len(data))
	for key := range data {
		environ = append(environ, envName(key)+"="+data.String(key))
	}
	slices.Sort(environ)
	return environ
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// dataEnv resolves ${key} and ${EPHEMERAL_KEY} from connection data and anything else from the
// process environment.
type dataEnv struct {
	data ephemeral.ConnectionData
}

var _ interpolate.Env = dataEnv{}

func (e dataEnv) Get(key string) (string, bool) {
	if _, ok := e.data[key]; ok {
		return e.data.String(key), true
	}
	for k := range e.data {
		if envName(k) == key {
			return e.data.String(k), true
		}
	}
	return os.LookupEnv(key)
}
