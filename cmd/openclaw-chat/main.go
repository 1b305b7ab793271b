package main

import (
	"fmt"
	"os"

	"github.com/openclaw/openclaw-chat/cmd/openclaw-chat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
