package main

import (
	"fmt"
	"os"

	"github.com/picklr-io/zitadelhost/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
