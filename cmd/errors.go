package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"waggle/types"
)

// HandleFatalError handles unrecoverable errors that should terminate the
// application.
func HandleFatalError(userMsg string, technicalErr error) {
	PrintError(userMsg, technicalErr)
	os.Exit(1)
}

// PrintError prints an error message without exiting, allowing for recovery.
// Coordination errors keep their code so distinct failures stay
// distinguishable; --verbose reveals the underlying technical error.
func PrintError(userMsg string, technicalErr error) {
	var coordErr *types.CoordError
	if errors.As(technicalErr, &coordErr) && !viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "%s (%s)\n", userMsg, coordErr.Code)
		return
	}
	if viper.GetBool("verbose") && technicalErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", technicalErr)
		return
	}
	fmt.Fprintln(os.Stderr, userMsg)
}

// LogError logs an error to stderr only in verbose mode.
func LogError(msg string, err error) {
	if !viper.GetBool("verbose") {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s\n", msg)
	}
}
