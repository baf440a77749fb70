// ABOUTME: Shapes command printing the canonical output field lists
// ABOUTME: Shows the raw provider layout and the ip-port projection

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

func newShapesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shapes",
		Short: "Print the output shapes and their fields",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, shape := range []types.Shape{types.ShapeRaw, types.ShapeIPPort} {
				fields := shape.Fields()
				fmt.Fprintf(out, "%s (%d fields):\n  %s\n", shape, len(fields), strings.Join(fields, ","))
			}
		},
	}
}
