package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hitoshi/biblioteca/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		if !errors.Is(err, app.ErrRunFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
