// port-opener keeps a configurable number of loopback TCP connections
// open against its own listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"portopener/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "port-opener: %v\n", err)
		os.Exit(1)
	}
}
