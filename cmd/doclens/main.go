// Command doclens runs the local document RAG server and its companion
// CLI commands.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/doclens/doclens/cmd/doclens/cmd"
)

func main() {
	// A .env in the working directory seeds the environment before config
	// resolution; absence is not an error.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
