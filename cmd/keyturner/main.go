// keyturner is a command-line client for keyturner smart locks and openers.
//
// Usage:
//
//	keyturner [global options] command [command options] [arguments...]
//
// Examples:
//
//	keyturner scan
//	keyturner --store-backend file --store ~/.keyturner.cbor pair
//	keyturner unlock
//	keyturner --simulate state
//
// With --simulate every command runs against an in-process simulated lock
// that is paired on first use.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
