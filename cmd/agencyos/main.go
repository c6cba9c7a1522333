// agencyos is the single-operator agency operating system: a control
// loop over tasks, calendar, email, projects, and receivables, plus the
// HTTP API and terminal inbox that sit on top of it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
