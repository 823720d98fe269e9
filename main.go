package main

import (
	"fmt"
	"os"

	"github.com/tphakala/wildlife-id-bot/cmd"
	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=... -X main.commit=...".
var (
	version   string
	buildDate string
	commit    string
)

func main() {
	info := buildinfo.NewContext(version, buildDate, commit)

	rootCmd := cmd.RootCommand(info)
	err := rootCmd.Execute()
	_ = logger.Global().Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
