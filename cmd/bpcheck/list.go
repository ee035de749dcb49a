package main

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the breakpoints of the breakpoint file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, bps, err := newEngine(opts)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			table := tablewriter.NewWriter(&buf)
			table.SetHeader([]string{"ID", "File", "Line", "Enabled", "Condition"})
			table.SetBorder(false)
			table.SetCenterSeparator("")
			table.SetAutoWrapText(false)
			table.SetColumnAlignment([]int{
				tablewriter.ALIGN_RIGHT,
				tablewriter.ALIGN_LEFT,
				tablewriter.ALIGN_RIGHT,
				tablewriter.ALIGN_CENTER,
				tablewriter.ALIGN_LEFT,
			})

			active := 0
			for _, bp := range bps {
				expr, _ := bp.Expr()
				table.Append([]string{
					strconv.Itoa(bp.ID()),
					bp.Source(),
					strconv.Itoa(bp.Line()),
					strconv.FormatBool(bp.Enabled()),
					expr,
				})
				if bp.Enabled() && engine.Lines().Has(bp.Line()) {
					active++
				}
			}
			table.SetFooter([]string{"", fmt.Sprintf("Total %d", len(bps)), "", fmt.Sprintf("%d active", active), ""})
			table.Render()

			fmt.Fprint(cmd.OutOrStdout(), buf.String())
			return nil
		},
	}
}
