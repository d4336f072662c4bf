package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/proj/proj/cmd"
	"github.com/proj/proj/internal/ipcclient"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, ipcclient.ErrUnreachable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
