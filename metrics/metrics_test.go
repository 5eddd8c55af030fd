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

package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimerAccumulatesAcrossStartStop(t *testing.T) {
	tm := NewTimer()
	tm.Start("add")
	time.Sleep(time.Millisecond)
	tm.Stop("add")
	tm.Start("add")
	time.Sleep(time.Millisecond)
	tm.Stop("add")

	snap := tm.Snapshot()
	if snap["add"] <= 0 {
		t.Errorf("expected positive accumulated duration, got %v", snap["add"])
	}
}

func TestTimerStopWithoutStartIsNoop(t *testing.T) {
	tm := NewTimer()
	tm.Stop("never-started")
	if len(tm.Snapshot()) != 0 {
		t.Errorf("expected no timers recorded")
	}
}

func TestEventStringIsValidJSON(t *testing.T) {
	e := Event{Iter: 3, Timers: map[string]float64{"add": 0.5}, Summary: "ok"}
	s := e.String()
	if !strings.Contains(s, `"iter":3`) {
		t.Errorf("expected rendered event to contain iter field, got %s", s)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("rendered event is not valid JSON: %v", err)
	}
	if decoded.Summary != "ok" {
		t.Errorf("round-tripped summary = %q, want %q", decoded.Summary, "ok")
	}
}
