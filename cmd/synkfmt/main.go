// Command synkfmt canonicalizes ProseMirror JSON documents the same way the
// API does before storing them.
package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// maxprocs.Set only fails on an invalid GOMAXPROCS env; runtime defaults apply then.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
