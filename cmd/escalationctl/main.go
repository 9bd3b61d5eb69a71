// Command escalationctl is the operator CLI for the escalation engine.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/myle1996kh/base-chatbot/internal/cli"
)

func main() {
	_ = godotenv.Load()
	os.Exit(cli.Execute())
}
