// Command ragcore is the entry point for the retrieval-augmented generation
// engine. It provides a CLI interface (via Cobra) for document ingestion,
// one-shot question answering, and an HTTP server with a chat API.
package main

import (
	"fmt"
	"os"

	"github.com/ragcore/engine/cmd/ragcore/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
