package cmd

import (
	"fmt"
	"os"
)

// used to patch over calls to os.Exit() during test
var osExit = os.Exit

// exitCodeError propagates the exit status of a wrapped command
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}
