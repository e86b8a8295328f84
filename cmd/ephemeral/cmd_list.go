package main

import (
	"context"
	"fmt"

	"github.com/pressly/ephemeral/pkg/service"
)

func listCmd(_ context.Context, st *state, args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(st.stderr, "ephemeral list: takes no arguments")
		return exitUsage
	}
	for _, name := range service.Names() {
		fmt.Fprintln(st.stdout, name)
	}
	return exitOK
}
