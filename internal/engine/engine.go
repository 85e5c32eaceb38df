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

// Package engine runs one geometric operation end to end: plan batches over
// the input layer, execute the instantiated SQL per batch in parallel
// workers, merge partial results in completion order into an uncommitted
// output, and commit it atomically. Either the full output is produced and
// indexed, or no output is visible, or an error is returned; the destination
// path never holds a half-merged result.
package engine

import (
	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/sqltemplate"
)

// Outcome tells the caller what an operation did.
type Outcome int

const (
	// OutcomeCreated means the output container was produced and committed.
	OutcomeCreated Outcome = iota
	// OutcomeSkippedExisting means the output already existed and force was
	// not requested; the engine did no work at all.
	OutcomeSkippedExisting
	// OutcomeEmpty means the operation produced no rows; no output artifact
	// exists. This is not an error.
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeSkippedExisting:
		return "skipped-existing"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Options is the per-operation configuration surface shared by all
// operations.
type Options struct {
	// Parallelism is the degree of parallelism; -1 (or 0) resolves
	// automatically from the feature count and core count.
	Parallelism int
	// BatchSize is an indicative number of rows per batch; -1 (or 0) resolves
	// automatically. Smaller batches reduce memory use.
	BatchSize int64
	// Force overwrites an existing output; without it an existing output
	// makes the whole operation a logged no-op.
	Force bool
	// ExplodeCollections writes one output row per single-part geometry.
	ExplodeCollections bool
	// ForceGeometryType declares the output geometry type.
	ForceGeometryType container.GeometryType
	// SkipSpatialIndex leaves the committed output without an RTREE index.
	SkipSpatialIndex bool
	// FilterNullGeoms wraps the statement so NULL-geometry rows never reach
	// the output.
	FilterNullGeoms bool
}

// SingleLayerParams describes an operation reading one layer.
type SingleLayerParams struct {
	InputPath  string
	InputLayer string // empty: the container's only layer
	OutputPath string
	// OutputLayer defaults to the destination filename stem.
	OutputLayer string
	Operation   string
	Template    *sqltemplate.Template
	// Columns restricts the attribute columns copied to the output; nil keeps
	// all of them.
	Columns []string
	Options
}

// TwoLayerParams describes an operation combining two layers, possibly from
// different containers.
type TwoLayerParams struct {
	Input1Path          string
	Input1Layer         string
	Input1Columns       []string
	Input1ColumnsPrefix string
	Input2Path          string
	Input2Layer         string
	Input2Columns       []string
	Input2ColumnsPrefix string
	OutputPath          string
	OutputLayer         string
	Operation           string
	Template            *sqltemplate.Template
	Options
}
