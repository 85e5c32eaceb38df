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

	"github.com/cardinalhq/georunner/internal/ops"
)

// commonFlags binds the options shared by all single-layer operation
// commands, which take INPUT and OUTPUT as positional arguments.
type commonFlags struct {
	inputLayer  string
	outputLayer string
	columns     []string
	explode     bool
	parallel    int
	batchSize   int64
	force       bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.inputLayer, "input-layer", "", "Input layer name (default: the container's only layer)")
	fl.StringVar(&f.outputLayer, "output-layer", "", "Output layer name (default: output filename stem)")
	fl.StringSliceVar(&f.columns, "columns", nil, "Attribute columns to keep (default: all)")
	fl.BoolVar(&f.explode, "explode", false, "Write one output row per single-part geometry")
	fl.IntVar(&f.parallel, "parallel", -1, "Degree of parallelism (-1: automatic)")
	fl.Int64Var(&f.batchSize, "batch-size", -1, "Indicative number of rows per batch (-1: automatic)")
	fl.BoolVar(&f.force, "force", false, "Overwrite an existing output")
}

func (f *commonFlags) common() ops.Common {
	return ops.Common{
		InputLayer:         f.inputLayer,
		OutputLayer:        f.outputLayer,
		Columns:            f.columns,
		ExplodeCollections: f.explode,
		Parallelism:        f.parallel,
		BatchSize:          f.batchSize,
		Force:              f.force,
	}
}

// twoLayerFlags binds the options shared by all two-layer operation
// commands, which take INPUT1, INPUT2 and OUTPUT as positional arguments.
type twoLayerFlags struct {
	input1Layer   string
	input1Columns []string
	input1Prefix  string
	input2Layer   string
	input2Columns []string
	input2Prefix  string
	outputLayer   string
	explode       bool
	parallel      int
	batchSize     int64
	force         bool
}

func (f *twoLayerFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.input1Layer, "input1-layer", "", "First input layer name (default: the container's only layer)")
	fl.StringSliceVar(&f.input1Columns, "input1-columns", nil, "First input attribute columns to keep (default: all)")
	fl.StringVar(&f.input1Prefix, "input1-prefix", "l1_", "Prefix for first input columns in the output")
	fl.StringVar(&f.input2Layer, "input2-layer", "", "Second input layer name (default: the container's only layer)")
	fl.StringSliceVar(&f.input2Columns, "input2-columns", nil, "Second input attribute columns to keep (default: all)")
	fl.StringVar(&f.input2Prefix, "input2-prefix", "l2_", "Prefix for second input columns in the output")
	fl.StringVar(&f.outputLayer, "output-layer", "", "Output layer name (default: output filename stem)")
	fl.BoolVar(&f.explode, "explode", false, "Write one output row per single-part geometry")
	fl.IntVar(&f.parallel, "parallel", -1, "Degree of parallelism (-1: automatic)")
	fl.Int64Var(&f.batchSize, "batch-size", -1, "Indicative number of rows per batch (-1: automatic)")
	fl.BoolVar(&f.force, "force", false, "Overwrite an existing output")
}

func (f *twoLayerFlags) common() ops.TwoLayerCommon {
	return ops.TwoLayerCommon{
		Input1Layer:         f.input1Layer,
		Input1Columns:       f.input1Columns,
		Input1ColumnsPrefix: f.input1Prefix,
		Input2Layer:         f.input2Layer,
		Input2Columns:       f.input2Columns,
		Input2ColumnsPrefix: f.input2Prefix,
		OutputLayer:         f.outputLayer,
		ExplodeCollections:  f.explode,
		Parallelism:         f.parallel,
		BatchSize:           f.batchSize,
		Force:               f.force,
	}
}
