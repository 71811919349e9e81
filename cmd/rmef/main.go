package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mauv0809/rmef-warehouse/internal/cli"
)

func main() {
	// Load .env file if it exists (local dev)
	_ = godotenv.Load()

	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
