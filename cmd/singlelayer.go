// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/ops"
)

func init() {
	rootCmd.AddCommand(bufferCmd())
	rootCmd.AddCommand(convexhullCmd())
	rootCmd.AddCommand(deleteDuplicatesCmd())
	rootCmd.AddCommand(isvalidCmd())
	rootCmd.AddCommand(makevalidCmd())
	rootCmd.AddCommand(selectCmd())
}

func bufferCmd() *cobra.Command {
	var flags commonFlags
	var distance float64
	var quadrantSegments int
	cmd := &cobra.Command{
		Use:   "buffer INPUT OUTPUT",
		Short: "Buffer all features of a layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Buffer(cmd.Context(), args[0], args[1], distance, quadrantSegments, flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&distance, "distance", 0, "Buffer distance in layer units (negative shrinks polygons)")
	cmd.Flags().IntVar(&quadrantSegments, "quadrant-segments", 5, "Number of segments per quarter circle")
	_ = cmd.MarkFlagRequired("distance")
	return cmd
}

func convexhullCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "convexhull INPUT OUTPUT",
		Short: "Compute the convex hull of every feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.ConvexHull(cmd.Context(), args[0], args[1], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func deleteDuplicatesCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "delete-duplicates INPUT OUTPUT",
		Short: "Drop features with byte-identical geometries, keeping the first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.DeleteDuplicates(cmd.Context(), args[0], args[1], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func isvalidCmd() *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "isvalid INPUT OUTPUT",
		Short: "Write all invalid geometries of a layer to the output",
		Long:  "Check every geometry of the input layer. Invalid features are written to the output; the command fails when any are found, and writes no output when the layer is fully valid.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := ops.IsValid(cmd.Context(), args[0], args[1], flags.common())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("layer contains invalid geometries, see %s", args[1])
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func makevalidCmd() *cobra.Command {
	var flags commonFlags
	var gridSize float64
	var outputType string
	cmd := &cobra.Command{
		Use:   "makevalid INPUT OUTPUT",
		Short: "Repair invalid geometries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.MakeValid(cmd.Context(), args[0], args[1], gridSize,
				container.GeometryType(outputType), flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&gridSize, "grid-size", 0, "Snap coordinates to this precision before repairing (0: off)")
	cmd.Flags().StringVar(&outputType, "output-geometry-type", "", "Force the output geometry type (default: input layer type)")
	return cmd
}

func selectCmd() *cobra.Command {
	var flags commonFlags
	var stmt string
	var outputType string
	cmd := &cobra.Command{
		Use:   "select INPUT OUTPUT",
		Short: "Run a SQL statement against the input layer",
		Long:  "Run a caller-supplied SQL statement against the input layer. The statement may use the {geometrycolumn}, {columns_to_select_str}, {input_layer} and {batch_filter} placeholders; it only runs in parallel when it carries {batch_filter}.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Select(cmd.Context(), args[0], args[1], stmt,
				container.GeometryType(outputType), flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&stmt, "sql", "", "SQL statement to run")
	cmd.Flags().StringVar(&outputType, "output-geometry-type", "", "Force the output geometry type (default: input layer type)")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}
