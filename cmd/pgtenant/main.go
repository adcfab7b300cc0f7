package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/vvka-141/pgtenant/internal/cli"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(pgtenant.ExitPanic)
		}
	}()

	if os.Getenv("PGTENANT_TEST_PANIC") == "1" {
		panic("intentional test panic")
	}

	if err := cli.Execute(); err != nil {
		os.Exit(pgtenant.ExitCodeForError(err))
	}
}
