package main

import (
	"fmt"

	"github.com/aivorynet/tracebreak-go/pkg/breakpoint"
	"github.com/aivorynet/tracebreak-go/pkg/pathcache"
	"github.com/spf13/cobra"
)

func newCanonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "canon PATH...",
		Short: "Print the canonical form of runtime paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := pathcache.New(pathcache.WithDisabled(opts.noCache))
			for _, arg := range args {
				canonical, resolved := paths.Canonicalize(arg)
				if !resolved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (unresolved)\n", arg, canonical)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", arg, canonical)
			}
			return nil
		},
	}
}

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match DECLARED RUNTIME",
		Short: "Report whether a declared breakpoint file matches a runtime path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if breakpoint.MatchFilename(args[0], args[1]) {
				fmt.Fprintln(cmd.OutOrStdout(), "match")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
			}
			return nil
		},
	}
}
