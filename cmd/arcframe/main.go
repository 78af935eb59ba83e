package main

import (
	"fmt"
	"os"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "arcframe: %v\n", err)
		os.Exit(1)
	}
}
