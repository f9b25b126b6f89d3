// Command reportctl is the operator CLI for report jobs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultFactory).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
