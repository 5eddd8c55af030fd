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

	"github.com/crosscatproj/crosscat/schema"
)

type group struct {
	booleans []BetaBernoulli
	counts   []GammaPoisson
	reals    []NormalInverseChiSq
	rowCount int
}

func newGroup(model *Model) group {
	return group{
		booleans: append([]BetaBernoulli(nil), model.Booleans...),
		counts:   append([]GammaPoisson(nil), model.Counts...),
		reals:    append([]NormalInverseChiSq(nil), model.Reals...),
	}
}

// ProductMixture is the reference C3 implementation: one CRP-clustered
// mixture of conjugate product-of-experts groups per kind. The
// per-cell distribution math is intentionally swappable; this
// implementation exists only so the engine is runnable end to end.
//
// A ProductMixture is meant to be exclusively owned by the single
// goroutine (worker pool consumer) that scores/adds/removes values for
// its kind.
type ProductMixture struct {
	Model           *Model
	groups          []group
	ids             *IDTracker
	emptyGroupCount int
}

// NewProductMixture returns a mixture with no rows and emptyGroupCount
// empty candidate groups.
func NewProductMixture(model *Model, emptyGroupCount int) *ProductMixture {
	m := &ProductMixture{Model: model, ids: NewIDTracker(), emptyGroupCount: emptyGroupCount}
	for i := 0; i < emptyGroupCount; i++ {
		m.addEmptyGroup()
	}
	return m
}

func (m *ProductMixture) addEmptyGroup() int {
	packed, _ := m.ids.Add()
	m.groups = append(m.groups, newGroup(m.Model))
	return packed
}

// CountRows returns the total number of rows across all groups.
func (m *ProductMixture) CountRows() int {
	total := 0
	for i := range m.groups {
		total += m.groups[i].rowCount
	}
	return total
}

// GroupCount returns the number of packed groups, including empty ones.
func (m *ProductMixture) GroupCount() int { return len(m.groups) }

// RestoreGroups pre-allocates n empty groups registered under the
// canonical global ids 0..n-1 (the numbering rowio.CanonicalGroupOrder
// assigns on dump), using IDTracker.AddExisting rather than Add so the
// tracker's notion of "preloaded" vs "freshly minted" stays accurate.
// Used only when rebuilding sufficient statistics from a persisted dump,
// before replaying rows through AddValue.
func (m *ProductMixture) RestoreGroups(n int) {
	for i := 0; i < n; i++ {
		m.ids.AddExisting(uint64(i))
		m.groups = append(m.groups, newGroup(m.Model))
	}
	m.ids.NextGlobalAtLeast(uint64(n))
}

// GroupRowCount returns the row count of packed group g.
func (m *ProductMixture) GroupRowCount(g int) int { return m.groups[g].rowCount }

// IDs returns the mixture's packed/global group id tracker.
func (m *ProductMixture) IDs() *IDTracker { return m.ids }

// iterateKind walks the observed entries of a kind-local value (whatever
// its sparsity tag), invoking boolFn/countFn/realFn with the feature's
// position local to its type block. boolN/countN give the
// number of boolean/count features this kind owns, which is enough to
// classify any absolute kind-local position into its type block.
func iterateKind(v schema.Value, boolN, countN int, boolFn func(pos int, x bool), countFn func(pos int, x int64), realFn func(pos int, x float64)) {
	switch v.Observed.Sparsity {
	case schema.All:
		for i, x := range v.Booleans {
			boolFn(i, x)
		}
		for i, x := range v.Counts {
			countFn(i, x)
		}
		for i, x := range v.Reals {
			realFn(i, x)
		}
	case schema.Dense:
		bi, ci, ri := 0, 0, 0
		for pos, on := range v.Observed.Dense {
			if !on {
				continue
			}
			switch {
			case pos < boolN:
				boolFn(pos, v.Booleans[bi])
				bi++
			case pos < boolN+countN:
				countFn(pos-boolN, v.Counts[ci])
				ci++
			default:
				realFn(pos-boolN-countN, v.Reals[ri])
				ri++
			}
		}
	case schema.Sparse:
		bi, ci, ri := 0, 0, 0
		for _, pos32 := range v.Observed.Sparse {
			pos := int(pos32)
			switch {
			case pos < boolN:
				boolFn(pos, v.Booleans[bi])
				bi++
			case pos < boolN+countN:
				countFn(pos-boolN, v.Counts[ci])
				ci++
			default:
				realFn(pos-boolN-countN, v.Reals[ri])
				ri++
			}
		}
	case schema.None:
	}
}

func (m *ProductMixture) boolCountN() (int, int) {
	return len(m.Model.Booleans), len(m.Model.Counts)
}

// ScoreValue returns, for every packed group g, log P(group=g) +
// log P(value | group=g), i.e. the unnormalized log posterior over group
// assignment that sampler.Softmax (C7) turns into a softmax draw. Scores
// are invariant to an additive shift since the CRP normalizer log(n+alpha) is constant across g and is omitted.
func (m *ProductMixture) ScoreValue(value schema.Value, rng Rand) []float64 {
	scores := make([]float64, len(m.groups))
	boolN, countN := m.boolCountN()
	for g := range m.groups {
		grp := &m.groups[g]
		var prior float64
		if grp.rowCount == 0 {
			prior = math.Log(m.Model.Clustering.Alpha)
		} else {
			prior = math.Log(float64(grp.rowCount))
		}
		ll := 0.0
		iterateKind(value, boolN, countN,
			func(pos int, x bool) { ll += grp.booleans[pos].Score(x) },
			func(pos int, x int64) { ll += grp.counts[pos].Score(x) },
			func(pos int, x float64) { ll += grp.reals[pos].Score(x) },
		)
		scores[g] = prior + ll
	}
	return scores
}

// AddValue inserts value into packed group groupID, creating a fresh
// trailing empty group if groupID was previously empty.
func (m *ProductMixture) AddValue(groupID int, value schema.Value, rng Rand) {
	grp := &m.groups[groupID]
	wasEmpty := grp.rowCount == 0
	boolN, countN := m.boolCountN()
	iterateKind(value, boolN, countN,
		func(pos int, x bool) { grp.booleans[pos].Add(x) },
		func(pos int, x int64) { grp.counts[pos].Add(x) },
		func(pos int, x float64) { grp.reals[pos].Add(x) },
	)
	grp.rowCount++
	if wasEmpty {
		m.addEmptyGroup()
	}
}

// RemoveValue is the exact inverse of AddValue for the same (groupID,
// value) pair, collapsing the group if it
// becomes empty and there is already a surplus of empty groups.
func (m *ProductMixture) RemoveValue(groupID int, value schema.Value, rng Rand) {
	grp := &m.groups[groupID]
	boolN, countN := m.boolCountN()
	iterateKind(value, boolN, countN,
		func(pos int, x bool) { grp.booleans[pos].Remove(x) },
		func(pos int, x int64) { grp.counts[pos].Remove(x) },
		func(pos int, x float64) { grp.reals[pos].Remove(x) },
	)
	grp.rowCount--
	if grp.rowCount == 0 {
		m.collapseIfSurplus(groupID)
	}
}

func (m *ProductMixture) collapseIfSurplus(groupID int) {
	empty := 0
	for i := range m.groups {
		if m.groups[i].rowCount == 0 {
			empty++
		}
	}
	if empty <= m.emptyGroupCount {
		return
	}
	moved := m.ids.Remove(groupID)
	last := len(m.groups) - 1
	if moved != -1 {
		m.groups[groupID] = m.groups[last]
	}
	m.groups = m.groups[:last]
}

// SampleValue draws a group index from probs (non-negative weights; they
// need not sum to one, since the draw scales by their total), then draws a value for each observed position of out
// from that group's predictive distribution. out.Observed must already
// be set (DENSE) to the positions the caller wants filled.
func (m *ProductMixture) SampleValue(probs []float64, out *schema.Value, rng Rand) int {
	g := sampleCategorical(probs, rng)
	grp := &m.groups[g]
	boolN, countN := m.boolCountN()
	out.Booleans = out.Booleans[:0]
	out.Counts = out.Counts[:0]
	out.Reals = out.Reals[:0]
	for pos, on := range out.Observed.Dense {
		if !on {
			continue
		}
		switch {
		case pos < boolN:
			out.Booleans = append(out.Booleans, grp.booleans[pos].Sample(rng))
		case pos < boolN+countN:
			out.Counts = append(out.Counts, grp.counts[pos-boolN].Sample(rng))
		default:
			out.Reals = append(out.Reals, grp.reals[pos-boolN-countN].Sample(rng))
		}
	}
	return g
}

func sampleCategorical(probs []float64, rng Rand) int {
	var total float64
	for _, p := range probs {
		total += p
	}
	u := rng.Float64() * total
	var cum float64
	for i, p := range probs {
		cum += p
		if u < cum {
			return i
		}
	}
	return len(probs) - 1
}

// InitUnobserved resets the mixture to len(counts) groups with the given
// row counts but no feature data, used for a featureless (ephemeral)
// kind whose model owns zero features.
func (m *ProductMixture) InitUnobserved(counts []int, rng Rand) {
	m.ids = NewIDTracker()
	m.groups = m.groups[:0]
	for _, c := range counts {
		m.ids.Add()
		m.groups = append(m.groups, group{rowCount: c})
	}
}

// InferHypers performs a small grid search over the clustering
// concentration parameter, maximizing the CRP partition likelihood of
// the current grouping. This stands in for the full conjugate
// hyperparameter inference a production model would perform; the
// core's only obligation is to invoke it between batches.
func (m *ProductMixture) InferHypers(rng Rand) {
	candidates := []float64{0.25, 0.5, 1, 2, 4, 8, 16}
	best := m.Model.Clustering.Alpha
	bestScore := math.Inf(-1)
	for _, alpha := range candidates {
		score := m.crpLogProb(alpha)
		if score > bestScore {
			bestScore = score
			best = alpha
		}
	}
	m.Model.Clustering.Alpha = best
}

func (m *ProductMixture) crpLogProb(alpha float64) float64 {
	n := m.CountRows()
	if n == 0 {
		return 0
	}
	k := 0
	score := lgamma(alpha) - lgamma(alpha+float64(n))
	for i := range m.groups {
		if m.groups[i].rowCount > 0 {
			k++
			score += lgamma(float64(m.groups[i].rowCount))
		}
	}
	score += float64(k) * math.Log(alpha)
	return score
}

// ScoreData returns the log probability of the current row clustering
// under this mixture's CRP prior (the Ewens sampling formula), used as
// one kind's contribution to posterior-enumeration's joint score
// diagnostic.
func (m *ProductMixture) ScoreData(rng Rand) float64 {
	return m.crpLogProb(m.Model.Clustering.Alpha)
}

// --- feature column move support for the kind-structure sampler (C8) ---

func extractAt[T any](col *[]T, pos int) T {
	v := (*col)[pos]
	*col = append((*col)[:pos], (*col)[pos+1:]...)
	return v
}

func insertAt[T any](col *[]T, pos int, v T) {
	var zero T
	*col = append(*col, zero)
	copy((*col)[pos+1:], (*col)[pos:])
	(*col)[pos] = v
}

// ExtractBoolean removes the boolean feature at kind-local position pos
// from every group and from the model template, returning the per-group
// column (indexed by packed group id) and the hyperparameter template.
func (m *ProductMixture) ExtractBoolean(pos int) ([]BetaBernoulli, BetaBernoulli) {
	col := make([]BetaBernoulli, len(m.groups))
	for i := range m.groups {
		col[i] = extractAt(&m.groups[i].booleans, pos)
	}
	hyper := extractAt(&m.Model.Booleans, pos)
	return col, hyper
}

// InsertBoolean inserts a boolean feature column at kind-local position
// pos into every group and into the model template. len(col) must equal
// GroupCount().
func (m *ProductMixture) InsertBoolean(pos int, col []BetaBernoulli, hyper BetaBernoulli) {
	for i := range m.groups {
		insertAt(&m.groups[i].booleans, pos, col[i])
	}
	insertAt(&m.Model.Booleans, pos, hyper)
}

// ExtractCount is the count-feature analogue of ExtractBoolean.
func (m *ProductMixture) ExtractCount(pos int) ([]GammaPoisson, GammaPoisson) {
	col := make([]GammaPoisson, len(m.groups))
	for i := range m.groups {
		col[i] = extractAt(&m.groups[i].counts, pos)
	}
	hyper := extractAt(&m.Model.Counts, pos)
	return col, hyper
}

// InsertCount is the count-feature analogue of InsertBoolean.
func (m *ProductMixture) InsertCount(pos int, col []GammaPoisson, hyper GammaPoisson) {
	for i := range m.groups {
		insertAt(&m.groups[i].counts, pos, col[i])
	}
	insertAt(&m.Model.Counts, pos, hyper)
}

// ExtractReal is the real-feature analogue of ExtractBoolean.
func (m *ProductMixture) ExtractReal(pos int) ([]NormalInverseChiSq, NormalInverseChiSq) {
	col := make([]NormalInverseChiSq, len(m.groups))
	for i := range m.groups {
		col[i] = extractAt(&m.groups[i].reals, pos)
	}
	hyper := extractAt(&m.Model.Reals, pos)
	return col, hyper
}

// InsertReal is the real-feature analogue of InsertBoolean.
func (m *ProductMixture) InsertReal(pos int, col []NormalInverseChiSq, hyper NormalInverseChiSq) {
	for i := range m.groups {
		insertAt(&m.groups[i].reals, pos, col[i])
	}
	insertAt(&m.Model.Reals, pos, hyper)
}
