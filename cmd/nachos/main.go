// Command nachos runs user programs on a simulated machine with paged virtual
// memory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/tebeka/atexit"
)

func main() {
	err := loadDotEnv(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		atexit.Exit(1)
	}

	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		atexit.Exit(1)
	}

	err = newRootCmd(cfg, afero.NewOsFs()).Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
