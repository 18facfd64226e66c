// Command sechannel runs a relay hub and secure-channel endpoints.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/floegence/sechannel/internal/cmdutil"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return cmdutil.ExitCode(err)
}
