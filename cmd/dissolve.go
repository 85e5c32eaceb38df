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

	"github.com/cardinalhq/georunner/internal/ops"
)

func init() {
	rootCmd.AddCommand(dissolveCmd())
}

func dissolveCmd() *cobra.Command {
	var flags commonFlags
	var groupBy []string
	var aggSpecs []string
	var jsonColumns bool
	cmd := &cobra.Command{
		Use:   "dissolve INPUT OUTPUT",
		Short: "Union the geometries of features sharing the same attribute values",
		Long:  "Group features on the given columns and union each group's geometries into one feature. Aggregations are written as kind:column[:alias], e.g. sum:area:total_area; kinds are count, sum, min, max, avg, median and concat.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aggs, err := parseAggregations(aggSpecs)
			if err != nil {
				return err
			}
			if jsonColumns {
				aggs = append(aggs, ops.Aggregation{Kind: ops.AggJSON})
			}
			_, err = ops.Dissolve(cmd.Context(), args[0], args[1], ops.DissolveOptions{
				GroupBy:      groupBy,
				Aggregations: aggs,
				Common:       flags.common(),
			})
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&groupBy, "group-by", nil, "Columns to group on (default: dissolve the whole layer)")
	cmd.Flags().StringSliceVar(&aggSpecs, "agg", nil, "Aggregated output columns as kind:column[:alias]")
	cmd.Flags().BoolVar(&jsonColumns, "json", false, "Pack the non-grouped columns into one JSON column per group")
	return cmd
}

func parseAggregations(specs []string) ([]ops.Aggregation, error) {
	aggs := make([]ops.Aggregation, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid aggregation %q, expected kind:column[:alias]", spec)
		}
		agg := ops.Aggregation{
			Kind:   ops.AggregationKind(strings.ToLower(parts[0])),
			Column: parts[1],
		}
		if len(parts) == 3 {
			agg.Alias = parts[2]
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}
