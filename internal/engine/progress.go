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
	"time"
)

// progressReporter logs one line per merged batch with elapsed time and a
// linear ETA over the remaining batches. Only the coordinator touches it.
type progressReporter struct {
	operation string
	total     int
	done      int
	rows      int64
	start     time.Time
}

func newProgressReporter(operation string, total int) *progressReporter {
	return &progressReporter{operation: operation, total: total, start: time.Now()}
}

func (p *progressReporter) step(rows int64) {
	p.done++
	p.rows += rows
	elapsed := time.Since(p.start)
	var eta time.Duration
	if p.done > 0 && p.done < p.total {
		eta = time.Duration(int64(elapsed) / int64(p.done) * int64(p.total-p.done))
	}
	slog.Info("Batch merged",
		slog.String("operation", p.operation),
		slog.Int("done", p.done),
		slog.Int("total", p.total),
		slog.Int64("rows", p.rows),
		slog.Duration("elapsed", elapsed.Round(time.Second)),
		slog.Duration("eta", eta.Round(time.Second)))
}
