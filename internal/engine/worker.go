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
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
)

// batchJob is one unit of work: run stmt against the inputs and leave the
// result as a table in a private partial container. Workers never touch the
// shared output, so they need no coordination beyond the completion channel.
type batchJob struct {
	id          int
	stmt        string
	mainPath    string // opened read-only as database "main"
	attachPath  string // optional second input, attached read-only
	attachAlias string
	partialPath string
	outputLayer string
	// threads and memoryMB are this worker's share of the process budget;
	// zero leaves the engine default in place.
	threads  int
	memoryMB int64
}

// workerBudget splits the CPU and (when DUCKDB_MEMORY_LIMIT is set) memory
// budget of the process evenly over the parallel workers so the engine
// instances do not oversubscribe the host.
func workerBudget(parallelism int) (threads int, memoryMB int64) {
	if parallelism <= 1 {
		return 0, 0
	}
	threads = runtime.GOMAXPROCS(0) / parallelism
	if threads < 1 {
		threads = 1
	}
	if total := duckdbx.EnvIntClamp("DUCKDB_MEMORY_LIMIT", 0, 1, math.MaxInt32); total > 0 {
		memoryMB = int64(total) / int64(parallelism)
		if memoryMB < 1 {
			memoryMB = 1
		}
	}
	return threads, memoryMB
}

type batchResult struct {
	job      batchJob
	rows     int64
	duration time.Duration
	err      error
}

// runBatchJob executes one batch. The partial container is created by the
// attach and dropped again here when the batch produced no rows, so the
// coordinator only ever merges non-empty partials.
func runBatchJob(ctx context.Context, job batchJob) (int64, error) {
	var dbOpts []duckdbx.Option
	if job.threads > 0 {
		dbOpts = append(dbOpts, duckdbx.WithThreads(job.threads))
	}
	if job.memoryMB > 0 {
		dbOpts = append(dbOpts, duckdbx.WithMemoryLimitMB(job.memoryMB))
	}
	db, err := duckdbx.Open(duckdbx.ReadOnlyDSN(job.mainPath), dbOpts...)
	if err != nil {
		return 0, fmt.Errorf("open input %s: %w", job.mainPath, err)
	}
	defer func() { _ = db.Close() }()
	// One connection per worker; the partial is private to it.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	if err := duckdbx.Attach(ctx, conn, "partial", job.partialPath, false); err != nil {
		return 0, err
	}
	if job.attachPath != "" {
		if err := duckdbx.Attach(ctx, conn, job.attachAlias, job.attachPath, true); err != nil {
			return 0, err
		}
	}

	create := fmt.Sprintf("CREATE TABLE partial.%s AS %s",
		duckdbx.QuoteIdent(job.outputLayer), job.stmt)
	if _, err := conn.ExecContext(ctx, create); err != nil {
		return 0, err
	}

	var rows int64
	count := fmt.Sprintf("SELECT count(*) FROM partial.%s", duckdbx.QuoteIdent(job.outputLayer))
	if err := conn.QueryRowContext(ctx, count).Scan(&rows); err != nil {
		return 0, err
	}

	// Detach checkpoints the partial so the coordinator can attach it.
	if err := duckdbx.Detach(ctx, conn, "partial"); err != nil {
		return 0, err
	}

	if rows == 0 {
		if err := container.Remove(job.partialPath); err != nil {
			return 0, err
		}
	}
	return rows, nil
}
