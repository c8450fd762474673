package main

import (
	"fmt"
	"os"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
