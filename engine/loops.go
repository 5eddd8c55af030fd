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

package engine

import (
	"fmt"

	"github.com/crosscatproj/crosscat/metrics"
	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schedule"
	"github.com/crosscatproj/crosscat/structure"
)

// KindStructureParams enables the kind-structure phase (C8) on every
// process_batch of a multi-pass run; nil disables it, leaving
// process_batch to do hyper-inference only.
type KindStructureParams struct {
	EphemeralKindCount int
	// Iterations bounds how many sweeps a single Run call performs
	// before IsMixing is re-checked.
	Iterations     int
	MaxRejectIters int
}

// SinglePassAdd adds exactly rowCount rows read from iv's unassigned
// cursor, never removing, terminating once that many rows have been
// added. The interval's cyclic cursor never itself signals EOF, so the
// pass length is bounded by rowCount instead.
func (e *Engine) SinglePassAdd(iv *rowio.Interval, rowCount int) error {
	for i := 0; i < rowCount; i++ {
		row, err := iv.NextUnassigned()
		if err != nil {
			return fmt.Errorf("engine: single-pass add: %w", err)
		}
		if _, err := e.AddRow(row); err != nil {
			return fmt.Errorf("engine: single-pass add: %w", err)
		}
		if err := e.validateIfDebug(); err != nil {
			return fmt.Errorf("engine: single-pass add: %w", err)
		}
	}
	return nil
}

// validateIfDebug runs Validate when Debug is set.
func (e *Engine) validateIfDebug() error {
	if !e.Debug {
		return nil
	}
	return e.Validate()
}

// RunSchedule drives sched's action sequence against iv: add and remove
// dispatch through the worker pool, and process_batch runs hyper-
// inference plus, when ks is non-nil, the kind-structure phase, emitting
// one metrics.Event per batch.
//
// Because New's steady-state schedule (initialLive == rowCount) never
// lets more than one row sit added-but-unremoved at a time (every Add is
// immediately followed by a Remove before the next Add), the row a
// Remove action retires is always the one the preceding Add just
// inserted: that's also what C2's LIFO pop_row returns, so pending
// tracks it locally instead of reading it back through C5's assigned
// cursor, which stays reserved for genuinely out-of-band eviction (a
// resumed run replaying rows added before a checkpoint, say) rather
// than this in-lockstep case.
func (e *Engine) RunSchedule(iv *rowio.Interval, sched *schedule.Schedule, ks *KindStructureParams) error {
	var pending []Row
	for _, action := range sched.Actions() {
		switch action {
		case schedule.Add:
			row, err := iv.NextUnassigned()
			if err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			if _, err := e.AddRow(row); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			pending = append(pending, row)
			if err := e.validateIfDebug(); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
		case schedule.Remove:
			if len(pending) == 0 {
				return fmt.Errorf("engine: schedule emitted remove with no outstanding add")
			}
			row := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if _, err := e.RemoveRow(row); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			if err := e.validateIfDebug(); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
		case schedule.ProcessBatch:
			if err := e.processBatch(ks); err != nil {
				return err
			}
			if err := e.validateIfDebug(); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
		}
	}
	return nil
}

func (e *Engine) processBatch(ks *KindStructureParams) error {
	tm := metrics.NewTimer()

	tm.Start("hyper_inference")
	e.Kinds.InferHypers(e.Rng)
	tm.Stop("hyper_inference")

	status := "hyper_inference_only"
	if ks != nil {
		tm.Start("kind_structure")
		if err := e.runKindStructure(ks); err != nil {
			return err
		}
		tm.Stop("kind_structure")
		status = "mixed"
	}

	e.iter++
	evt := metrics.Event{
		RunID:        e.RunID,
		Iter:         e.iter,
		Timers:       tm.Snapshot(),
		Summary:      fmt.Sprintf("kinds=%d rows=%d", e.Kinds.KindCount(), e.Store.RowCount()),
		KernelStatus: status,
	}
	if e.Log != nil {
		e.Log.Printf("%s", evt.String())
	}
	return nil
}

// runKindStructure prepares a fresh kind-structure sampler, runs it
// until the chain stops mixing, and cleans it up, resizing the worker
// pool to match the kind count at each transition.
func (e *Engine) runKindStructure(ks *KindStructureParams) error {
	smp := structure.New(e.Kinds, e.Store, e.rows, e.Rng, ks.EphemeralKindCount, e.EmptyGroupCount, ks.MaxRejectIters)
	smp.Pool = e.Pool
	smp.Process = e.process

	if err := smp.Prepare(); err != nil {
		return fmt.Errorf("engine: kind-structure prepare: %w", err)
	}
	for smp.IsMixing() {
		if _, err := smp.Run(ks.Iterations); err != nil {
			_ = smp.Cleanup()
			return fmt.Errorf("engine: kind-structure run: %w", err)
		}
	}
	if err := smp.Cleanup(); err != nil {
		return fmt.Errorf("engine: kind-structure cleanup: %w", err)
	}
	// Cleanup may have changed the kind count (a formerly-ephemeral kind
	// can keep features and survive); the next process_batch's Add/
	// Remove dispatches pick up the new count via AddRow's own guard,
	// but the scratch slice is reset here too so a stale, too-short
	// slice is never read between now and the next Add.
	e.results = make([]uint64, e.Kinds.KindCount())
	return nil
}
