package main

import (
	"fmt"
	"os"

	"github.com/xraph/taskrun/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskrun:", err)
		os.Exit(1)
	}
}
