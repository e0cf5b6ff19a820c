package main

import (
	"fmt"
	"log/slog"
	"os"

	"autoshop-api/internal/logger"
)

func main() {
	slog.SetDefault(logger.New(os.Stderr, false, "warn"))

	if err := newRootCommand().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
