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

package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/georunner/engine")

	batchesCompleted metric.Int64Counter
	batchDuration    metric.Float64Histogram
	rowsMerged       metric.Int64Counter
)

func init() {
	var err error
	if batchesCompleted, err = meter.Int64Counter(
		"georunner.engine.batches.completed",
		metric.WithDescription("Batches executed and merged per operation"),
	); err != nil {
		slog.Error("Failed to create batches completed counter", slog.Any("error", err))
	}
	if batchDuration, err = meter.Float64Histogram(
		"georunner.engine.batch.duration",
		metric.WithDescription("Wall time of a single batch execution"),
		metric.WithUnit("s"),
	); err != nil {
		slog.Error("Failed to create batch duration histogram", slog.Any("error", err))
	}
	if rowsMerged, err = meter.Int64Counter(
		"georunner.engine.rows.merged",
		metric.WithDescription("Rows merged into the output container"),
	); err != nil {
		slog.Error("Failed to create rows merged counter", slog.Any("error", err))
	}
}
