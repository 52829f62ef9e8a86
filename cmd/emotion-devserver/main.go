package main

import (
	"os"

	"github.com/fatih/color"

	"emotion-client/internal/presentation/cli"
)

func main() {
	if err := cli.NewDevServerCommand().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
