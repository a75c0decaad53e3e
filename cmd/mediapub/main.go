package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Interrupted commands exit like a shell job stopped with Ctrl-C.
const exitInterrupted = 130

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	}
	fmt.Fprintf(root.ErrOrStderr(), "mediapub: %v\n", err)
	return 1
}
