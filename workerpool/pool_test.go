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

package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/crosscatproj/crosscat/schema"
)

func TestFanOutReachesEveryKind(t *testing.T) {
	const kindCount = 4
	var seen [kindCount]int32
	pool := New(kindCount, 2, 1234, func(kindID int, task Task, rng Rand) {
		atomic.AddInt32(&seen[kindID], 1)
	})
	defer pool.Shutdown()

	env := pool.Alloc()
	pool.Send(env, Task{RowID: 7, Full: schema.Value{}})
	pool.Wait()

	for k := 0; k < kindCount; k++ {
		if atomic.LoadInt32(&seen[k]) != 1 {
			t.Errorf("kind %d processed %d times, want 1", k, seen[k])
		}
	}
}

func TestEnvelopeRecycling(t *testing.T) {
	const kindCount = 2
	var wg sync.WaitGroup
	pool := New(kindCount, 1, 1, func(kindID int, task Task, rng Rand) {
		wg.Done()
	})
	defer pool.Shutdown()

	for i := 0; i < 5; i++ {
		wg.Add(kindCount)
		env := pool.Alloc()
		pool.Send(env, Task{RowID: uint64(i)})
		pool.Wait()
	}
	wg.Wait()
}

func TestPerKindRNGIsDeterministic(t *testing.T) {
	a := newConsumerRand(42, 3)
	b := newConsumerRand(42, 3)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("expected deterministic per-kind RNG stream for the same seed and kind id")
		}
	}
}
