// Command policychat is the entry point for the education policy assistant.
// It provides a CLI interface (via Cobra), an interactive terminal chat, and
// an HTTP server exposing the conversational API.
package main

import (
	"fmt"
	"os"

	"github.com/edupolicy/policychat-go/cmd/policychat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
