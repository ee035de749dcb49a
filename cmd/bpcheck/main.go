// Command bpcheck evaluates breakpoint files against source locations without
// running a tracer.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
