package main

import (
	"os"
	"runtime/debug"

	"depvet/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger := cli.NewLogger(os.Stderr, false)
			logger.WithField("stack", string(debug.Stack())).Errorf("unexpected panic: %v", r)
			os.Exit(1)
		}
	}()

	cli.Execute()
}
