package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aivorynet/tracebreak-go/pkg/condition"
	"github.com/spf13/cobra"
)

func newFindCmd(opts *rootOptions) *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "find FILE:LINE...",
		Short: "Report the breakpoint that fires at each location",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binding, err := parseVars(vars)
			if err != nil {
				return err
			}

			engine, bps, err := newEngine(opts)
			if err != nil {
				return err
			}

			for _, arg := range args {
				file, line, err := parseLocation(arg)
				if err != nil {
					return err
				}
				bp := engine.Find(bps, file, line, binding)
				if bp == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no breakpoint\n", arg)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: breakpoint %d (%s:%d)\n", arg, bp.ID(), bp.Source(), bp.Line())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "path cache misses: %d\n", engine.Paths().Misses())
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "condition variable as NAME=VALUE (can be repeated)")

	return cmd
}

func parseLocation(arg string) (string, int, error) {
	i := strings.LastIndexByte(arg, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("location %q is not FILE:LINE", arg)
	}
	line, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("location %q: bad line: %w", arg, err)
	}
	return arg[:i], line, nil
}

// parseVars turns NAME=VALUE pairs into a binding. Values that parse as an
// integer, float or bool keep that type; everything else is a string.
func parseVars(vars []string) (condition.Binding, error) {
	binding := make(condition.Binding, len(vars))
	for _, v := range vars {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("variable %q is not NAME=VALUE", v)
		}
		binding[name] = parseValue(value)
	}
	return binding, nil
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
