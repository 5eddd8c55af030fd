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

// Package schedule implements the annealing schedule (C6): a
// deterministic sequence of {add, remove, process_batch} actions sized
// by a target number of "extra passes" over the data.
package schedule

import "math"

// Action is one step of the annealing schedule.
type Action int

const (
	Add Action = iota
	Remove
	ProcessBatch
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case ProcessBatch:
		return "process_batch"
	default:
		return "unknown"
	}
}

// batchBase and batchGrowth parameterize the geometric batch schedule
// `batch_k = ceil(base * r^k)`. These were chosen, not derived: small
// enough that
// early batches still amortize hyper-inference, large enough that the
// schedule doesn't degenerate into a process_batch after every single
// row once batches grow.
const (
	batchBase    = 4.0
	batchGrowth  = 1.3
	minPopulated = 1 // rows required in the store before remove/batch may occur when row_count starts at 0
)

// Schedule produces the annealing action sequence for one "pass" plus
// extraPasses additional passes over rowCount rows:
// rowCount + floor(extraPasses*rowCount) adds interleaved with an equal
// number of removes, partitioned into geometrically-growing batches.
type Schedule struct {
	totalAddRemove int // total number of (add, remove) pairs across the whole schedule
	initialLive    int // rows already present in the assignment store when the schedule begins
}

// New returns a schedule targeting rowCount rows (the dataset size that
// drives the schedule's total length) and extraPasses additional passes
// (cat_extra_passes / kind_extra_passes in the invocation parameters).
// initialLive is the number of rows already present in the assignment
// store when the schedule begins: pass rowCount for steady-state
// streaming (the store is already fully populated) or 0 for a cold
// start, which triggers the add-first tie-break below.
func New(rowCount int, extraPasses float64, initialLive int) *Schedule {
	total := rowCount + int(math.Floor(extraPasses*float64(rowCount)))
	return &Schedule{totalAddRemove: total, initialLive: initialLive}
}

// Actions returns a finite slice covering exactly one full schedule:
// totalAddRemove adds and totalAddRemove removes, batched geometrically,
// terminated by a final process_batch. When the store starts empty, the
// sequence opens with `add`s until minPopulated rows exist before
// interleaving removes.
func (s *Schedule) Actions() []Action {
	if s.totalAddRemove == 0 {
		return nil
	}

	var actions []Action
	added, removed := 0, 0
	batchIndex := 0
	sinceBatch := 0
	nextBatchSize := batchSize(batchIndex)
	startingEmpty := s.initialLive == 0
	live := s.initialLive

	flushIfDue := func() {
		sinceBatch++
		if sinceBatch >= nextBatchSize {
			actions = append(actions, ProcessBatch)
			sinceBatch = 0
			batchIndex++
			nextBatchSize = batchSize(batchIndex)
		}
	}

	for added < s.totalAddRemove || removed < s.totalAddRemove {
		mustAddFirst := startingEmpty && live < minPopulated
		canAdd := added < s.totalAddRemove
		canRemove := removed < s.totalAddRemove && live > 0

		switch {
		case mustAddFirst && canAdd:
			actions = append(actions, Add)
			added++
			live++
			flushIfDue()
		case canAdd && canRemove:
			actions = append(actions, Add)
			added++
			live++
			flushIfDue()
			actions = append(actions, Remove)
			removed++
			live--
			flushIfDue()
		case canAdd:
			actions = append(actions, Add)
			added++
			live++
			flushIfDue()
		case canRemove:
			actions = append(actions, Remove)
			removed++
			live--
			flushIfDue()
		default:
			// removed < total but live == 0: nothing left to remove and
			// nothing left to add either; the schedule is stuck, which
			// only happens if totalAddRemove exceeds what adds can ever
			// supply. Terminate rather than loop forever.
			removed = s.totalAddRemove
		}
	}
	if sinceBatch > 0 {
		actions = append(actions, ProcessBatch)
	}
	return actions
}

func batchSize(k int) int {
	return int(math.Ceil(batchBase * math.Pow(batchGrowth, float64(k))))
}
