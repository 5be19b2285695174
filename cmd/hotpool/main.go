package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	// Version is overridden at build time with -ldflags "-X main.Version=...".
	Version = "v1.0"

	red = color.New(color.FgRed).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("hotpool: "+err.Error()))
		os.Exit(1)
	}
}
