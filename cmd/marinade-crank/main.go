package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(ExitError)
		}
	}()

	cmd := newRootCmd()
	if err := Execute(context.Background(), cmd); err != nil {
		os.Exit(HandleError(cmd, err))
	}
	os.Exit(ExitSuccess)
}
