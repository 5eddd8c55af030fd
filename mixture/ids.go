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

// Package mixture specifies the per-kind group mixture contract (C3) and
// provides one reference conjugate implementation so the engine compiles
// and runs end to end. The per-cell distribution math here is
// intentionally swappable; callers are expected to supply their own
// production-grade models behind the same interface.
package mixture

// IDTracker maintains the bidirectional mapping between a group's packed
// id (dense, reused on removal) and its global id (monotonic, permanent).
type IDTracker struct {
	packedToGlobal []uint64
	globalToPacked map[uint64]int
	nextGlobal     uint64
}

// NewIDTracker returns an empty tracker.
func NewIDTracker() *IDTracker {
	return &IDTracker{
		globalToPacked: make(map[uint64]int),
	}
}

// Len returns the number of live (packed) groups.
func (t *IDTracker) Len() int { return len(t.packedToGlobal) }

// Add allocates a new packed slot at the end and assigns it a fresh,
// never-reused global id. It returns the new packed id and global id.
func (t *IDTracker) Add() (packed int, global uint64) {
	packed = len(t.packedToGlobal)
	global = t.nextGlobal
	t.nextGlobal++
	t.packedToGlobal = append(t.packedToGlobal, global)
	t.globalToPacked[global] = packed
	return packed, global
}

// AddExisting registers a preloaded group with a known global id,
// used when restoring persisted mixture state. The caller must ensure
// global ids loaded this way do not collide with freshly minted ones;
// NextGlobalAtLeast should be called afterwards.
func (t *IDTracker) AddExisting(global uint64) (packed int) {
	packed = len(t.packedToGlobal)
	t.packedToGlobal = append(t.packedToGlobal, global)
	t.globalToPacked[global] = packed
	return packed
}

// NextGlobalAtLeast raises the tracker's next-global-id counter so that
// subsequently minted ids never collide with ids already loaded via
// AddExisting.
func (t *IDTracker) NextGlobalAtLeast(n uint64) {
	if n > t.nextGlobal {
		t.nextGlobal = n
	}
}

// Remove frees packed slot `packed` by swapping the last packed slot into
// its place; only the two affected entries change. It returns the packed
// id that was moved into `packed`'s old slot, or -1 if `packed` was
// already the last slot.
func (t *IDTracker) Remove(packed int) (moved int) {
	last := len(t.packedToGlobal) - 1
	removedGlobal := t.packedToGlobal[packed]
	delete(t.globalToPacked, removedGlobal)

	if packed == last {
		t.packedToGlobal = t.packedToGlobal[:last]
		return -1
	}

	movedGlobal := t.packedToGlobal[last]
	t.packedToGlobal[packed] = movedGlobal
	t.globalToPacked[movedGlobal] = packed
	t.packedToGlobal = t.packedToGlobal[:last]
	return last
}

// PackedToGlobal translates a packed group id to its global id.
func (t *IDTracker) PackedToGlobal(packed int) uint64 {
	return t.packedToGlobal[packed]
}

// GlobalToPacked translates a global group id to its current packed id.
func (t *IDTracker) GlobalToPacked(global uint64) int {
	packed, ok := t.globalToPacked[global]
	if !ok {
		panic("mixture: unknown global group id")
	}
	return packed
}
