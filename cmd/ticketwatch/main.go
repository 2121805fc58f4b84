package main

import (
	"github.com/joho/godotenv"

	"ticketwatch/internal/cli"
)

func main() {
	// Missing .env is fine; configuration falls back to real env vars.
	_ = godotenv.Load()

	cli.Execute()
}
