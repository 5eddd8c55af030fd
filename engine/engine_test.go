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
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schedule"
	"github.com/crosscatproj/crosscat/schema"
	"github.com/google/uuid"
)

type testLogger struct{ lines []string }

func (l *testLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// testEngine builds a 2-kind, 4-boolean-feature engine, mirroring
// structure's own test fixture.
func testEngine(t *testing.T, seed int64) (*Engine, *testLogger) {
	t.Helper()
	s := schema.Schema{Booleans: 4}
	partition := []int{0, 0, 1, 1}
	models := []*mixture.Model{
		{Clustering: mixture.CRP{Alpha: 1}, Booleans: []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}, {Alpha: 1, Beta: 1}}},
		{Clustering: mixture.CRP{Alpha: 1}, Booleans: []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}, {Alpha: 1, Beta: 1}}},
	}
	kinds, err := kindset.New(s, partition, models, 1, mixture.CRP{Alpha: 1}, nil)
	if err != nil {
		t.Fatalf("kindset.New: %v", err)
	}
	store := assign.New(kinds.KindCount())
	log := &testLogger{}
	e := New(kinds, store, rand.New(rand.NewSource(seed)), log, uuid.New(), 1, 4, uint64(seed))
	t.Cleanup(e.Close)
	return e, log
}

func testRow(i uint64) Row {
	return Row{
		ID: i,
		Value: schema.Value{
			Observed: schema.Observed{Sparsity: schema.All},
			Booleans: []bool{i%2 == 0, i%3 == 0, i%2 == 1, i%3 == 1},
		},
	}
}

func TestAddRowAndRemoveRowRoundTrip(t *testing.T) {
	e, _ := testEngine(t, 1)
	for i := uint64(0); i < 6; i++ {
		ok, err := e.AddRow(testRow(i))
		if err != nil || !ok {
			t.Fatalf("add row %d: ok=%v err=%v", i, ok, err)
		}
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate after adds: %v", err)
	}

	ok, err := e.AddRow(testRow(0))
	if err != nil || ok {
		t.Fatalf("expected re-adding row 0 to no-op, got ok=%v err=%v", ok, err)
	}

	for i := uint64(5); ; i-- {
		rowid, err := e.RemoveRow(testRow(i))
		if err != nil {
			t.Fatalf("remove row %d: %v", i, err)
		}
		if rowid != i {
			t.Fatalf("removed row id = %d, want %d", rowid, i)
		}
		if i == 0 {
			break
		}
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate after removes: %v", err)
	}
	if e.Store.RowCount() != 0 {
		t.Fatalf("expected empty store, got %d rows", e.Store.RowCount())
	}
}

func TestRemoveRowDetectsDesyncWithAssignedCursor(t *testing.T) {
	e, _ := testEngine(t, 2)
	for i := uint64(0); i < 3; i++ {
		if _, err := e.AddRow(testRow(i)); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}
	if _, err := e.RemoveRow(testRow(0)); err == nil {
		t.Fatalf("expected desync error removing row 0 while row 2 is the LIFO top")
	}
}

func writeRowFile(t *testing.T, rows []Row) *rowio.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.bin")
	w, err := rowio.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f, err := rowio.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return f
}

func TestSinglePassAddAddsExactlyRowCount(t *testing.T) {
	e, _ := testEngine(t, 3)
	var rows []Row
	for i := uint64(0); i < 5; i++ {
		rows = append(rows, testRow(i))
	}
	f := writeRowFile(t, rows)
	iv, err := rowio.NewInterval(f, len(rows), nil)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	defer iv.Close()

	if err := e.SinglePassAdd(iv, len(rows)); err != nil {
		t.Fatalf("single-pass add: %v", err)
	}
	if e.Store.RowCount() != len(rows) {
		t.Fatalf("store row count = %d, want %d", e.Store.RowCount(), len(rows))
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// TestSinglePassAddValidatesEachRowWhenDebugSet checks that Debug wires
// Validate into the add loop rather than only being callable manually.
func TestSinglePassAddValidatesEachRowWhenDebugSet(t *testing.T) {
	e, _ := testEngine(t, 3)
	e.Debug = true
	var rows []Row
	for i := uint64(0); i < 5; i++ {
		rows = append(rows, testRow(i))
	}
	f := writeRowFile(t, rows)
	iv, err := rowio.NewInterval(f, len(rows), nil)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	defer iv.Close()

	if err := e.SinglePassAdd(iv, len(rows)); err != nil {
		t.Fatalf("single-pass add with debug validation: %v", err)
	}
	if e.Store.RowCount() != len(rows) {
		t.Fatalf("store row count = %d, want %d", e.Store.RowCount(), len(rows))
	}
}

// preload adds rowCount rows through the engine and returns an Interval
// fast-forwarded to match, so RunSchedule's add/remove cursors agree
// with the assignment store from the start.
func preload(t *testing.T, e *Engine, rowCount int) *rowio.Interval {
	t.Helper()
	var rows []Row
	for i := uint64(0); i < uint64(rowCount); i++ {
		rows = append(rows, testRow(i))
	}
	f := writeRowFile(t, rows)
	for _, r := range rows {
		if _, err := e.AddRow(r); err != nil {
			t.Fatalf("preload add row %d: %v", r.ID, err)
		}
	}
	iv, err := rowio.NewInterval(f, rowCount, e.Store.RowIDs())
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	t.Cleanup(func() { iv.Close() })
	return iv
}

// TestRestoreRebuildsSufficientStatistics drives a small engine to a
// non-trivial assignment, dumps its canonical groups and assignments,
// then restores a fresh engine over the same model from just the dump
// plus the row file, and checks the restored mixture's statistics match
// e1's (resuming a run rebuilds sufficient statistics without ever
// serializing the raw accumulators).
func TestRestoreRebuildsSufficientStatistics(t *testing.T) {
	e1, _ := testEngine(t, 5)
	var rows []Row
	for i := uint64(0); i < 6; i++ {
		rows = append(rows, testRow(i))
	}
	rowFile := writeRowFile(t, rows)
	for _, r := range rows {
		if _, err := e1.AddRow(r); err != nil {
			t.Fatalf("add row %d: %v", r.ID, err)
		}
	}

	mixtures := make([]rowio.KindMixture, e1.Kinds.KindCount())
	for k, kind := range e1.Kinds.Kinds {
		mixtures[k] = kind.Mixture
	}
	remap, records := rowio.CanonicalGroupOrder(mixtures)

	var assignBuf bytes.Buffer
	if err := rowio.DumpAssignments(&assignBuf, e1.Store, remap); err != nil {
		t.Fatalf("dump assignments: %v", err)
	}
	store2, err := rowio.LoadAssignments(&assignBuf, e1.Kinds.KindCount())
	if err != nil {
		t.Fatalf("load assignments: %v", err)
	}

	s := schema.Schema{Booleans: 4}
	partition := []int{0, 0, 1, 1}
	models := []*mixture.Model{
		{Clustering: mixture.CRP{Alpha: 1}, Booleans: []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}, {Alpha: 1, Beta: 1}}},
		{Clustering: mixture.CRP{Alpha: 1}, Booleans: []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}, {Alpha: 1, Beta: 1}}},
	}
	kinds2, err := kindset.New(s, partition, models, 0, mixture.CRP{Alpha: 1}, nil)
	if err != nil {
		t.Fatalf("kindset.New: %v", err)
	}
	e2 := New(kinds2, store2, rand.New(rand.NewSource(5)), &testLogger{}, uuid.New(), 1, 4, 5)
	t.Cleanup(e2.Close)

	rowValues, err := rowio.ScanAll(rowFile, len(rows))
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	values := make(map[uint64]schema.Value, len(rowValues))
	for id, row := range rowValues {
		values[id] = row.Value
	}
	if err := e2.Restore(records, values); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := e2.Validate(); err != nil {
		t.Fatalf("validate after restore: %v", err)
	}
	for k := range e1.Kinds.Kinds {
		for _, rec := range records[k] {
			oldPacked := e1.Kinds.Kinds[k].Mixture.IDs().GlobalToPacked(oldGlobalFor(remap[k], rec.GlobalID))
			newPacked := e2.Kinds.Kinds[k].Mixture.IDs().GlobalToPacked(rec.GlobalID)
			if e2.Kinds.Kinds[k].Mixture.GroupRowCount(newPacked) != e1.Kinds.Kinds[k].Mixture.GroupRowCount(oldPacked) {
				t.Fatalf("kind %d canonical group %d: restored row count disagrees with original", k, rec.GlobalID)
			}
		}
	}
}

// oldGlobalFor inverts a CanonicalGroupOrder remap entry to recover the
// original global id a canonical id was assigned from.
func oldGlobalFor(remap map[uint64]uint64, canonical uint64) uint64 {
	for old, newID := range remap {
		if newID == canonical {
			return old
		}
	}
	return canonical
}

func TestRunScheduleHyperInferenceOnlyEmitsMetrics(t *testing.T) {
	e, log := testEngine(t, 4)
	iv := preload(t, e, 6)
	sched := schedule.New(6, 1.0, 6)

	if err := e.RunSchedule(iv, sched, nil); err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if len(log.lines) == 0 {
		t.Fatalf("expected at least one metrics event logged")
	}
	if e.Store.RowCount() != 6 {
		t.Fatalf("store row count = %d, want 6 after a full streaming cycle", e.Store.RowCount())
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunScheduleWithKindStructureKeepsValidAssignment(t *testing.T) {
	e, log := testEngine(t, 5)
	iv := preload(t, e, 6)
	sched := schedule.New(6, 1.0, 6)
	ks := &KindStructureParams{EphemeralKindCount: 2, Iterations: 1, MaxRejectIters: 2}

	if err := e.RunSchedule(iv, sched, ks); err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if len(log.lines) == 0 {
		t.Fatalf("expected at least one metrics event logged")
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for k, kind := range e.Kinds.Kinds {
		if len(kind.FeatureIDs) == 0 {
			t.Errorf("kind %d left empty after kind-structure phase", k)
		}
	}
}

func TestPosteriorEnumerateRejectsZeroSkipWithMultipleSamples(t *testing.T) {
	e, _ := testEngine(t, 6)
	if _, err := e.PosteriorEnumerate(2, 0, nil); err != ErrZeroDiversity {
		t.Fatalf("expected ErrZeroDiversity, got %v", err)
	}
}

func TestPosteriorEnumerateAllowsZeroSkipWithOneSample(t *testing.T) {
	e, _ := testEngine(t, 6)
	for i := uint64(0); i < 3; i++ {
		if _, err := e.AddRow(testRow(i)); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}
	samples, err := e.PosteriorEnumerate(1, 0, nil)
	if err != nil {
		t.Fatalf("posterior enumerate: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
}

func TestPosteriorEnumerateProducesRequestedSampleCount(t *testing.T) {
	e, _ := testEngine(t, 7)
	for i := uint64(0); i < 6; i++ {
		if _, err := e.AddRow(testRow(i)); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}
	samples, err := e.PosteriorEnumerate(3, 2, nil)
	if err != nil {
		t.Fatalf("posterior enumerate: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if e.Store.RowCount() != 6 {
		t.Fatalf("expected all 6 rows still assigned after enumeration, got %d", e.Store.RowCount())
	}
	for si, sample := range samples {
		if len(sample.Kinds) != e.Kinds.KindCount() {
			t.Fatalf("sample %d: got %d kinds, want %d", si, len(sample.Kinds), e.Kinds.KindCount())
		}
		for k, groups := range sample.Kinds {
			total := 0
			for _, g := range groups {
				total += len(g)
			}
			if total != 6 {
				t.Errorf("sample %d kind %d: row ids across groups sum to %d, want 6", si, k, total)
			}
		}
	}
}

func predictFixture(t *testing.T) *Engine {
	t.Helper()
	s := schema.Schema{Booleans: 2}
	partition := []int{0, 0}
	models := []*mixture.Model{
		{Clustering: mixture.CRP{Alpha: 1}, Booleans: []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}, {Alpha: 1, Beta: 1}}},
	}
	kinds, err := kindset.New(s, partition, models, 1, mixture.CRP{Alpha: 1}, nil)
	if err != nil {
		t.Fatalf("kindset.New: %v", err)
	}
	store := assign.New(kinds.KindCount())
	e := New(kinds, store, rand.New(rand.NewSource(1)), &testLogger{}, uuid.New(), 1, 4, 1)
	t.Cleanup(e.Close)
	rows := []Row{
		{ID: 0, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{true, true}}},
		{ID: 1, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{true, true}}},
		{ID: 2, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{false, false}}},
	}
	for _, r := range rows {
		if _, err := e.AddRow(r); err != nil {
			t.Fatalf("add row %d: %v", r.ID, err)
		}
	}
	return e
}

// TestPredictIsDeterministicForFixedSeed checks that predicting with the
// same seed twice produces identical samples, regardless of per-kind
// consumer scheduling.
func TestPredictIsDeterministicForFixedSeed(t *testing.T) {
	e := predictFixture(t)
	evidence := schema.Value{
		Observed: schema.Observed{Sparsity: schema.Dense, Dense: []bool{true, false}},
		Booleans: []bool{true},
	}
	target := schema.Observed{Sparsity: schema.Dense, Dense: []bool{false, true}}

	first, err := e.Predict(evidence, target, 4, 42)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	second, err := e.Predict(evidence, target, 4, 42)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("predict with the same seed produced different samples:\n%+v\n%+v", first, second)
	}
	if len(first) != 4 {
		t.Fatalf("got %d samples, want 4", len(first))
	}
	for i, v := range first {
		if len(v.Booleans) != 1 {
			t.Errorf("sample %d: joined value has %d booleans, want 1 (the one target position)", i, len(v.Booleans))
		}
	}
}
