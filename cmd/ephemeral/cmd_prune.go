package main

import (
	"context"
	"fmt"

	"github.com/pressly/ephemeral"
)

func pruneCmd(ctx context.Context, st *state, args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(st.stderr, "ephemeral prune: takes no arguments")
		return exitUsage
	}
	n, err := ephemeral.Prune(ctx, ephemeral.WithLogger(st.logger))
	if err != nil {
		fmt.Fprintf(st.stderr, "ephemeral prune: %v\n", err)
		return exitFailed
	}
	fmt.Fprintf(st.stdout, "removed %d container(s)\n", n)
	return exitOK
}
