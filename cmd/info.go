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
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/georunner/internal/container"
)

func init() {
	rootCmd.AddCommand(infoCmd())
}

func infoCmd() *cobra.Command {
	var layer string
	cmd := &cobra.Command{
		Use:   "info PATH",
		Short: "Show the layers of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := container.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			layers := []string{layer}
			if layer == "" {
				if layers, err = c.ListLayers(ctx); err != nil {
					return err
				}
			}
			for _, name := range layers {
				info, err := c.LayerInfo(ctx, name)
				if err != nil {
					return err
				}
				fmt.Printf("layer %s\n", info.Name)
				fmt.Printf("  features:        %d\n", info.FeatureCount)
				fmt.Printf("  geometry column: %s\n", info.GeometryColumn)
				if info.GeometryType != "" {
					fmt.Printf("  geometry type:   %s\n", info.GeometryType)
				}
				if info.CRS != "" {
					fmt.Printf("  crs:             %s\n", info.CRS)
				}
				fmt.Printf("  columns:         %s\n", strings.Join(info.Columns, ", "))
				if c.Native() {
					indexed, err := container.HasSpatialIndex(ctx, args[0], name)
					if err == nil {
						fmt.Printf("  spatial index:   %t\n", indexed)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "Only show this layer")
	return cmd
}
