package main

import (
	"os"

	"github.com/agentloop/agentloop/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
