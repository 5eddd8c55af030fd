// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package engine wires the core components (C1-C9) into the top-level
// orchestration loops: single-pass streaming, multi-pass annealing with
// and without kind-structure inference, posterior enumeration, and
// predict.
package engine

import (
	"fmt"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schema"
	"github.com/crosscatproj/crosscat/workerpool"
	"github.com/google/uuid"
)

// Row is the unit the top-level loops add and remove, aliasing rowio's
// on-disk record shape.
type Row = rowio.Row

// Logger is the minimal logging capability the engine needs, satisfied
// directly by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// rowCache holds the full value of every currently-assigned row,
// mirroring assign.Store's row set. It backs posterior enumeration's
// full sweeps and the kind-structure sampler's RowProvider, both of
// which need random access to any assigned row's full value, not just
// the next one in cyclic order.
type rowCache map[uint64]schema.Value

func (c rowCache) Row(rowid uint64) (schema.Value, error) {
	v, ok := c[rowid]
	if !ok {
		return schema.Value{}, fmt.Errorf("engine: no cached value for row %d", rowid)
	}
	return v, nil
}

// Engine owns one run's kind set, assignment store, and worker pool, and
// drives them through the top-level loops.
type Engine struct {
	Kinds *kindset.Set
	Store *assign.Store
	Pool  *workerpool.Pool
	Rng   mixture.Rand
	Log   Logger
	RunID uuid.UUID

	EmptyGroupCount int

	// Debug enables a Validate call after every add and remove in
	// SinglePassAdd and RunSchedule and after every process_batch: the
	// cross-checks are real work (a full pass over every kind's
	// mixture), so they're opt-in rather than unconditional.
	Debug bool

	rows    rowCache
	results []uint64 // scratch written by process's Add branch, one slot per kind
	remove  []uint64 // scratch read by process's Remove branch, the popped row's global ids
	iter    int
}

// New returns an engine over kinds and store, with one worker-pool
// consumer per kind seeded from poolSeed.
func New(kinds *kindset.Set, store *assign.Store, rng mixture.Rand, log Logger, runID uuid.UUID, emptyGroupCount int, poolCapacity int, poolSeed uint64) *Engine {
	e := &Engine{
		Kinds:           kinds,
		Store:           store,
		Rng:             rng,
		Log:             log,
		RunID:           runID,
		EmptyGroupCount: emptyGroupCount,
		rows:            make(rowCache),
		results:         make([]uint64, kinds.KindCount()),
	}
	e.Pool = workerpool.New(kinds.KindCount(), poolCapacity, poolSeed, e.process)
	return e
}

// process is the workerpool.Process callback: kind k's consumer scores,
// draws, and commits (or reverses) one row's partial against kind k's
// mixture only — per-kind mixtures are owned exclusively by their
// consumer.
func (e *Engine) process(kindID int, task workerpool.Task, rng workerpool.Rand) {
	kind := e.Kinds.Kinds[kindID]
	partial := task.Partials[kindID]
	switch task.Action {
	case workerpool.Add:
		scores := kind.Mixture.ScoreValue(partial, rng)
		g := softmaxDraw(scores, rng)
		kind.Mixture.AddValue(g, partial, rng)
		e.results[kindID] = kind.Mixture.IDs().PackedToGlobal(g)
	case workerpool.Remove:
		packed := kind.Mixture.IDs().GlobalToPacked(e.remove[kindID])
		kind.Mixture.RemoveValue(packed, partial, rng)
	}
}

// AddRow splits row and dispatches it through the pool to every kind's
// consumer, then commits the drawn global group ids to the assignment
// store. It returns false, with no side effect, if row.ID is already
// assigned.
func (e *Engine) AddRow(row Row) (bool, error) {
	if e.Store.Contains(row.ID) {
		return false, nil
	}
	partials, err := e.Kinds.ValueSplit(row.Value, nil)
	if err != nil {
		return false, fmt.Errorf("engine: splitting row %d: %w", row.ID, err)
	}
	// The kind-structure phase (C8) can change the kind count between
	// batches; keep the process callback's scratch slot count in step
	// with it.
	if len(e.results) != e.Kinds.KindCount() {
		e.results = make([]uint64, e.Kinds.KindCount())
	}
	env := e.Pool.Alloc()
	e.Pool.Send(env, workerpool.Task{Action: workerpool.Add, RowID: row.ID, Full: row.Value, Partials: partials})
	e.Pool.Wait()

	globalIDs := append([]uint64(nil), e.results...)
	if err := e.Store.AppendRow(row.ID, globalIDs); err != nil {
		return false, fmt.Errorf("engine: %w", err)
	}
	e.rows[row.ID] = row.Value
	return true, nil
}

// RemoveRow pops the assignment store's LIFO top and dispatches the
// inverse remove through the pool. row must be the value C5's assigned
// cursor produced for this position; a mismatch against the store's
// popped row id is an invariant violation, not a data error.
func (e *Engine) RemoveRow(row Row) (uint64, error) {
	rowid, globalIDs, err := e.Store.PopRow()
	if err != nil {
		return 0, fmt.Errorf("engine: %w", err)
	}
	if rowid != row.ID {
		return 0, fmt.Errorf("engine: assigned cursor desynchronized: store's LIFO top is row %d, cursor produced row %d", rowid, row.ID)
	}
	partials, err := e.Kinds.ValueSplit(row.Value, nil)
	if err != nil {
		return 0, fmt.Errorf("engine: splitting row %d: %w", rowid, err)
	}
	e.remove = globalIDs
	env := e.Pool.Alloc()
	e.Pool.Send(env, workerpool.Task{Action: workerpool.Remove, RowID: rowid, Full: row.Value, Partials: partials})
	e.Pool.Wait()

	delete(e.rows, rowid)
	return rowid, nil
}

// Validate delegates to kindset.Set.Validate, then checks that the kind
// set and the assignment store agree on the kind count and that every
// kind's mixture row count agrees with the assignment store — the
// cross-component checks the engine is positioned to make.
func (e *Engine) Validate() error {
	if err := e.Kinds.Validate(); err != nil {
		return err
	}
	if e.Store.KindCount() != e.Kinds.KindCount() {
		return fmt.Errorf("engine: assignment store has %d kinds, kind set has %d", e.Store.KindCount(), e.Kinds.KindCount())
	}
	for k, kind := range e.Kinds.Kinds {
		if kind.Mixture.CountRows() != e.Store.RowCount() {
			return fmt.Errorf("engine: kind %d mixture row count %d disagrees with assignment store row count %d",
				k, kind.Mixture.CountRows(), e.Store.RowCount())
		}
	}
	return nil
}

// Close shuts down the worker pool's consumer goroutines.
func (e *Engine) Close() {
	e.Pool.Shutdown()
}

func softmaxDraw(logScores []float64, rng workerpool.Rand) int {
	weights := expWeights(logScores)
	var total float64
	for _, w := range weights {
		total += w
	}
	u := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if u < cum {
			return i
		}
	}
	return len(weights) - 1
}
