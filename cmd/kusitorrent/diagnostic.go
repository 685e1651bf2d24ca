package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// printError writes err as a single diagnostic line. The prefix is colored
// only when w is a terminal that supports it.
func printError(w io.Writer, err error) {
	out := termenv.NewOutput(w)
	prefix := out.String("Error:").Foreground(out.Color("1")).Bold()

	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}

	fmt.Fprintf(w, "%s %s\n", prefix, msg)
}
