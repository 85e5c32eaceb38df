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
	"github.com/spf13/cobra"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/ops"
)

func init() {
	rootCmd.AddCommand(eraseCmd())
	rootCmd.AddCommand(intersectCmd())
	rootCmd.AddCommand(splitCmd())
	rootCmd.AddCommand(unionCmd())
	rootCmd.AddCommand(joinByLocationCmd())
	rootCmd.AddCommand(exportByLocationCmd())
	rootCmd.AddCommand(exportByDistanceCmd())
	rootCmd.AddCommand(selectTwoLayersCmd())
}

func eraseCmd() *cobra.Command {
	var flags twoLayerFlags
	cmd := &cobra.Command{
		Use:   "erase INPUT ERASE OUTPUT",
		Short: "Remove the parts of the input covered by the erase layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Erase(cmd.Context(), args[0], args[1], args[2], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func intersectCmd() *cobra.Command {
	var flags twoLayerFlags
	cmd := &cobra.Command{
		Use:   "intersect INPUT1 INPUT2 OUTPUT",
		Short: "Compute the pairwise intersections of two layers",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Intersect(cmd.Context(), args[0], args[1], args[2], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func splitCmd() *cobra.Command {
	var flags twoLayerFlags
	cmd := &cobra.Command{
		Use:   "split INPUT1 INPUT2 OUTPUT",
		Short: "Cut the first layer along the second, keeping all pieces",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Split(cmd.Context(), args[0], args[1], args[2], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func unionCmd() *cobra.Command {
	var flags twoLayerFlags
	cmd := &cobra.Command{
		Use:   "union INPUT1 INPUT2 OUTPUT",
		Short: "Overlay two layers keeping all pieces of both",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.Union(cmd.Context(), args[0], args[1], args[2], flags.common())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func joinByLocationCmd() *cobra.Command {
	var flags twoLayerFlags
	var keepNonmatching bool
	var minArea float64
	var areaColumn string
	cmd := &cobra.Command{
		Use:   "join-by-location INPUT1 INPUT2 OUTPUT",
		Short: "Join second-layer attributes onto overlapping first-layer features",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.JoinByLocation(cmd.Context(), args[0], args[1], args[2],
				!keepNonmatching, minArea, areaColumn, flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&keepNonmatching, "keep-nonmatching", false, "Also keep first-layer features without any overlap (left outer join)")
	cmd.Flags().Float64Var(&minArea, "min-intersect-area", 0, "Drop pairs whose intersection area is below this (0: off)")
	cmd.Flags().StringVar(&areaColumn, "intersect-area-column", "", "Also emit the intersection area under this column name")
	return cmd
}

func exportByLocationCmd() *cobra.Command {
	var flags twoLayerFlags
	var minArea float64
	var areaColumn string
	cmd := &cobra.Command{
		Use:   "export-by-location INPUT1 INPUT2 OUTPUT",
		Short: "Copy the first-layer features that overlap the second layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.ExportByLocation(cmd.Context(), args[0], args[1], args[2],
				minArea, areaColumn, flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&minArea, "min-intersect-area", 0, "Drop features whose intersection area is below this (0: off)")
	cmd.Flags().StringVar(&areaColumn, "intersect-area-column", "", "Also emit the intersection area under this column name")
	return cmd
}

func exportByDistanceCmd() *cobra.Command {
	var flags twoLayerFlags
	var maxDistance float64
	cmd := &cobra.Command{
		Use:   "export-by-distance INPUT1 INPUT2 OUTPUT",
		Short: "Copy the first-layer features within a distance of the second layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.ExportByDistance(cmd.Context(), args[0], args[1], args[2],
				maxDistance, flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&maxDistance, "max-distance", 0, "Maximum distance in layer units")
	_ = cmd.MarkFlagRequired("max-distance")
	return cmd
}

func selectTwoLayersCmd() *cobra.Command {
	var flags twoLayerFlags
	var stmt string
	var outputType string
	cmd := &cobra.Command{
		Use:   "select-two-layers INPUT1 INPUT2 OUTPUT",
		Short: "Run a SQL statement over two layers",
		Long:  "Run a caller-supplied SQL statement joining both layers. The statement may use the two-layer placeholders ({input1_databasename}, {input1_layer}, {layer1_columns_prefix_alias_str}, ...); it only runs in parallel when it carries {batch_filter}.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ops.SelectTwoLayers(cmd.Context(), args[0], args[1], args[2], stmt,
				container.GeometryType(outputType), flags.common())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&stmt, "sql", "", "SQL statement to run")
	cmd.Flags().StringVar(&outputType, "output-geometry-type", "", "Force the output geometry type (default: first input layer type)")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}
