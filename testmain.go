package ephemeral

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// WrapTestMain runs the tests, then removes any managed containers left behind unless
// EPHEMERAL_NOPRUNE is true, and exits with the tests' exit code. When EPHEMERAL_BLOCK is true
// it first waits for SIGINT or SIGTERM so containers can be inspected.
//
//	func TestMain(m *testing.M) {
//		ephemeral.WrapTestMain(m)
//	}
func WrapTestMain(m *testing.M) {
	code := m.Run()
	defer func() {
		os.Exit(code)
	}()
	env, err := loadEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ephemeral: %v\n", err)
		return
	}
	if env.block {
		blockUntilSignal(code)
	}
	if env.noPrune {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if n, err := Prune(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ephemeral: prune managed containers: %v\n", err)
	} else if n > 0 {
		fmt.Fprintf(os.Stderr, "ephemeral: removed %d leftover container(s)\n", n)
	}
}

func blockUntilSignal(code int) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	fmt.Fprintf(os.Stderr, "+++ debug mode: must exit (CTRL+C) manually. (code: %d)\n", code)
	<-sigs
}
