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

// Package metrics defines the per-iteration log record the engine emits
// after every batch.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one iteration's log record, rendered with a single call to a
// Logger (see the engine package) rather than a process-wide logging
// facility.
type Event struct {
	RunID        uuid.UUID          `json:"run_id"`
	Iter         int                `json:"iter"`
	Timers       map[string]float64 `json:"timers"`
	Summary      string             `json:"summary"`
	KernelStatus string             `json:"kernel_status,omitempty"`
}

// Timer accumulates named wall-clock durations across one batch,
// flushed into an Event's Timers map.
type Timer struct {
	started map[string]time.Time
	elapsed map[string]float64
}

// NewTimer returns an empty Timer.
func NewTimer() *Timer {
	return &Timer{started: make(map[string]time.Time), elapsed: make(map[string]float64)}
}

// Start marks the beginning of named work.
func (t *Timer) Start(name string) {
	t.started[name] = time.Now()
}

// Stop records the elapsed seconds since the matching Start call,
// accumulating across repeated Start/Stop pairs for the same name.
func (t *Timer) Stop(name string) {
	start, ok := t.started[name]
	if !ok {
		return
	}
	t.elapsed[name] += time.Since(start).Seconds()
	delete(t.started, name)
}

// Snapshot returns a copy of the accumulated timers, suitable for
// embedding in an Event.
func (t *Timer) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.elapsed))
	for k, v := range t.elapsed {
		out[k] = v
	}
	return out
}

// String renders e as a single-line JSON record, the form the engine
// passes to its Logger.
func (e Event) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("metrics: failed to marshal event: %v", err)
	}
	return string(b)
}
