// Command outreach drafts outreach messages from the terminal.
//
// Usage:
//
//	outreach generate -m "Write a cold email to Aisha Khan, VP Eng at Northwind"
//	outreach generate --session s1 -m "make it shorter"
//	echo "text Priya about the demo" | outreach generate --stream
//	outreach classify -m "hi there"
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr, cliDeps{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
