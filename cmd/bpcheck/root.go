package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	breakpoints string
	noCache     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bpcheck",
		Short: "Check breakpoint files against source locations",
		Long: `bpcheck loads a YAML breakpoint file and answers the question a tracer asks
on every line: is a breakpoint set here?

Example breakpoint file:

  breakpoints:
    - file: app/models/user.rb
      line: 42
      condition: user.admin == true
    - file: script.rb
      line: 10
      disabled: true`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.breakpoints, "breakpoints", "b", "breakpoints.yaml", "breakpoint file")
	cmd.PersistentFlags().BoolVar(&opts.noCache, "no-cache", false, "canonicalize paths without the path cache")

	cmd.AddCommand(
		newFindCmd(opts),
		newListCmd(opts),
		newCanonCmd(opts),
		newMatchCmd(),
	)
	return cmd
}
