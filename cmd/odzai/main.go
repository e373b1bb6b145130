package main

import (
	"os"

	"odzai/internal/cli"
)

var version = "dev"

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
