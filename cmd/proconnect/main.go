// Package main is the proconnect command line client.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/c360studio/proconnect/commands"
)

const (
	// Version is the current version of proconnect
	Version = "0.1.0"
	// BuildTime is set during build
	BuildTime = "dev"
)

func main() {
	// Recover from panics and print a full stack trace
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := commands.NewRootCmd(Version, BuildTime).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
