package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	flushSentry()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
