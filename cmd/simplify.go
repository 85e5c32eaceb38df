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

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/georunner/internal/ops"
)

func init() {
	rootCmd.AddCommand(simplifyCmd())
}

func simplifyCmd() *cobra.Command {
	var flags commonFlags
	var tolerance float64
	var algorithm string
	var lookahead int
	var preserveTopology bool
	var keepPointsOn string
	cmd := &cobra.Command{
		Use:   "simplify INPUT OUTPUT",
		Short: "Reduce the vertex count of every feature",
		Long:  "Simplify all geometries of a layer. The rdp algorithm (Ramer-Douglas-Peucker) runs in SQL and in parallel; lang runs in Go single-threaded and supports a lookahead window and pinned vertices.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch algorithm {
			case "rdp":
				if keepPointsOn != "" {
					return fmt.Errorf("--keep-points-on is only supported by the lang algorithm")
				}
				_, err := ops.Simplify(cmd.Context(), args[0], args[1], tolerance, preserveTopology, flags.common())
				return err
			case "lang":
				var keepGeometry orb.Geometry
				if keepPointsOn != "" {
					var err error
					if keepGeometry, err = wkt.Unmarshal(keepPointsOn); err != nil {
						return fmt.Errorf("invalid --keep-points-on geometry: %w", err)
					}
				}
				_, err := ops.SimplifyLang(cmd.Context(), args[0], args[1], ops.SimplifyLangOptions{
					Tolerance:        tolerance,
					Lookahead:        lookahead,
					PreserveTopology: preserveTopology,
					KeepGeometry:     keepGeometry,
					Common:           flags.common(),
				})
				return err
			default:
				return fmt.Errorf("unknown simplify algorithm %q (supported: rdp, lang)", algorithm)
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Simplification tolerance in layer units")
	cmd.Flags().StringVar(&algorithm, "algorithm", "rdp", "Simplification algorithm (rdp or lang)")
	cmd.Flags().IntVar(&lookahead, "lookahead", 8, "Lang lookahead window in vertices (-1: unbounded)")
	cmd.Flags().BoolVar(&preserveTopology, "preserve-topology", false, "Keep degenerate results instead of dropping them")
	cmd.Flags().StringVar(&keepPointsOn, "keep-points-on", "", "WKT geometry; vertices intersecting it survive lang simplification")
	_ = cmd.MarkFlagRequired("tolerance")
	return cmd
}
