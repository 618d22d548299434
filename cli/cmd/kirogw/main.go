// kirogw - OpenAI-compatible gateway for the Kiro backend.
package main

import (
	"os"

	"github.com/erikhoward/kirogw/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
