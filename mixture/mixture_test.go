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

package mixture

import (
	"math"
	"math/rand"
	"testing"

	"github.com/crosscatproj/crosscat/schema"
)

func testModel() *Model {
	return &Model{
		Clustering: CRP{Alpha: 1.0},
		Booleans:   []BetaBernoulli{{Alpha: 1, Beta: 1}},
		Counts:     []GammaPoisson{{Shape: 1, Rate: 1}},
		Reals:      []NormalInverseChiSq{{Mu0: 0, Kappa0: 1, Nu0: 1, Sigma0Sq: 1}},
	}
}

func denseValue(b bool, c int64, r float64) schema.Value {
	return schema.Value{
		Observed: schema.Observed{Sparsity: schema.All},
		Booleans: []bool{b},
		Counts:   []int64{c},
		Reals:    []float64{r},
	}
}

// TestRestoreGroupsThenReplayMatchesFreshBuild implements the resume
// path: pre-allocating n groups via RestoreGroups and replaying the
// same Add sequence through them must produce identical sufficient
// statistics to building fresh and adding directly.
func TestRestoreGroupsThenReplayMatchesFreshBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	v0 := denseValue(true, 2, 1.5)
	v1 := denseValue(false, 4, -0.5)

	fresh := NewProductMixture(testModel(), 2)
	fresh.AddValue(0, v0, rng)
	fresh.AddValue(1, v1, rng)

	restored := NewProductMixture(testModel(), 0)
	restored.RestoreGroups(2)
	if restored.GroupCount() != 2 {
		t.Fatalf("expected 2 pre-allocated groups, got %d", restored.GroupCount())
	}
	restored.AddValue(restored.IDs().GlobalToPacked(0), v0, rng)
	restored.AddValue(restored.IDs().GlobalToPacked(1), v1, rng)

	if restored.GroupRowCount(0) != fresh.GroupRowCount(0) {
		t.Fatalf("group 0 row count = %d, want %d", restored.GroupRowCount(0), fresh.GroupRowCount(0))
	}
	if restored.GroupRowCount(1) != fresh.GroupRowCount(1) {
		t.Fatalf("group 1 row count = %d, want %d", restored.GroupRowCount(1), fresh.GroupRowCount(1))
	}
	if restored.groups[0].booleans[0].Score(true) != fresh.groups[0].booleans[0].Score(true) {
		t.Fatalf("restored group 0 sufficient statistics diverge from a fresh build")
	}
}

// TestRestoreGroupsMintsFreshIDsAboveRestoredRange checks that ids
// minted after a restore (by ordinary Add calls, e.g. AddValue's
// auto-replenishment) never collide with the restored range.
func TestRestoreGroupsMintsFreshIDsAboveRestoredRange(t *testing.T) {
	m := NewProductMixture(testModel(), 0)
	m.RestoreGroups(3)
	_, global := m.ids.Add()
	if global < 3 {
		t.Fatalf("freshly minted global id %d collides with restored range [0,3)", global)
	}
}

// TestAddRemoveRoundTrip checks that adding one value to an empty group
// and removing it restores the group's sufficient statistics exactly
// (bit for bit).
func TestAddRemoveRoundTrip(t *testing.T) {
	m := NewProductMixture(testModel(), 1)
	rng := rand.New(rand.NewSource(1))
	before := m.groups[0]

	v := denseValue(true, 3, 2.5)
	m.AddValue(0, v, rng)
	m.RemoveValue(0, v, rng)

	after := m.groups[0]
	if before.booleans[0] != after.booleans[0] {
		t.Errorf("boolean suff stats not restored: before=%+v after=%+v", before.booleans[0], after.booleans[0])
	}
	if before.counts[0] != after.counts[0] {
		t.Errorf("count suff stats not restored: before=%+v after=%+v", before.counts[0], after.counts[0])
	}
	if before.reals[0] != after.reals[0] {
		t.Errorf("real suff stats not restored: before=%+v after=%+v", before.reals[0], after.reals[0])
	}
	if before.rowCount != after.rowCount {
		t.Errorf("row count not restored: before=%d after=%d", before.rowCount, after.rowCount)
	}
}

// TestScoreValueShiftInvariant checks that adding a constant to every
// group's score does not change the softmax distribution derived from
// ScoreValue's output.
func TestScoreValueShiftInvariant(t *testing.T) {
	m := NewProductMixture(testModel(), 2)
	rng := rand.New(rand.NewSource(2))
	m.AddValue(0, denseValue(true, 5, 1.0), rng)
	m.AddValue(1, denseValue(false, 0, -1.0), rng)

	v := denseValue(true, 2, 0.5)
	scores := m.ScoreValue(v, rng)

	shifted := make([]float64, len(scores))
	const shift = 37.125
	for i, s := range scores {
		shifted[i] = s + shift
	}

	p1 := softmax(scores)
	p2 := softmax(shifted)
	for i := range p1 {
		if math.Abs(p1[i]-p2[i]) > 1e-9 {
			t.Errorf("softmax not shift invariant at %d: %v vs %v", i, p1[i], p2[i])
		}
	}
}

func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func TestEmptyGroupReplenishment(t *testing.T) {
	m := NewProductMixture(testModel(), 1)
	rng := rand.New(rand.NewSource(3))
	if m.GroupCount() != 1 {
		t.Fatalf("expected 1 empty group at start, got %d", m.GroupCount())
	}
	m.AddValue(0, denseValue(true, 1, 0), rng)
	if m.GroupCount() != 2 {
		t.Fatalf("expected a fresh empty group after filling the only one, got %d groups", m.GroupCount())
	}
	if m.GroupRowCount(1) != 0 {
		t.Fatalf("new group should start empty, got rowCount=%d", m.GroupRowCount(1))
	}
}

func TestCollapseSurplusEmptyGroups(t *testing.T) {
	m := NewProductMixture(testModel(), 1)
	rng := rand.New(rand.NewSource(4))
	v := denseValue(true, 1, 0)
	m.AddValue(0, v, rng)
	if m.GroupCount() != 2 {
		t.Fatalf("expected 2 groups, got %d", m.GroupCount())
	}
	m.RemoveValue(0, v, rng)
	if m.GroupCount() != 1 {
		t.Fatalf("expected surplus empty group to collapse back to 1, got %d", m.GroupCount())
	}
}

func TestExtractInsertBooleanRoundTrip(t *testing.T) {
	m := NewProductMixture(testModel(), 1)
	rng := rand.New(rand.NewSource(5))
	m.AddValue(0, denseValue(true, 1, 0), rng)

	col, hyper := m.ExtractBoolean(0)
	if len(m.groups[0].booleans) != 0 {
		t.Fatalf("expected boolean column removed from group, got %d left", len(m.groups[0].booleans))
	}
	if len(m.Model.Booleans) != 0 {
		t.Fatalf("expected boolean hyper removed from model, got %d left", len(m.Model.Booleans))
	}

	m.InsertBoolean(0, col, hyper)
	if len(m.groups[0].booleans) != 1 {
		t.Fatalf("expected boolean column restored, got %d", len(m.groups[0].booleans))
	}
	if m.groups[0].booleans[0] != col[0] {
		t.Errorf("restored boolean suff stats mismatch: got %+v want %+v", m.groups[0].booleans[0], col[0])
	}
}

func TestIDTrackerSwapRemove(t *testing.T) {
	ids := NewIDTracker()
	p0, g0 := ids.Add()
	p1, _ := ids.Add()
	p2, g2 := ids.Add()
	_ = p0
	_ = g0

	moved := ids.Remove(p1)
	if moved != p2 {
		t.Fatalf("expected last packed id %d to move into removed slot, got %d", p2, moved)
	}
	if ids.PackedToGlobal(p1) != g2 {
		t.Errorf("packed slot %d should now map to global %d, got %d", p1, g2, ids.PackedToGlobal(p1))
	}
	if ids.Len() != 2 {
		t.Errorf("expected 2 remaining ids, got %d", ids.Len())
	}
}
