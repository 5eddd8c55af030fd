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

package rowio

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/schema"
)

func writeRows(t *testing.T, path string, rows []Row) {
	t.Helper()
	w, err := Create(path)
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
}

func sampleRows() []Row {
	return []Row{
		{ID: 1, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{true}}},
		{ID: 2, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{false}}},
		{ID: 3, Value: schema.Value{Observed: schema.Observed{Sparsity: schema.All}, Booleans: []bool{true}}},
	}
}

func TestCyclicReadWrapsAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.bin")
	writeRows(t, path, sampleRows())

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	iv, err := NewInterval(f, 3, nil)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	defer iv.Close()

	var ids []uint64
	for i := 0; i < 5; i++ {
		row, err := iv.NextUnassigned()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		ids = append(ids, row.ID)
	}
	want := []uint64{1, 2, 3, 1, 2}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v, want %v (cyclic wrap expected)", ids, want)
	}
}

func TestIntervalFastForwardsPastPreloadedAssignments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.bin")
	writeRows(t, path, sampleRows())

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// rows 1 and 2 are already assigned; unassigned cursor should
	// resume at row 3, assigned cursor should start from row 1.
	iv, err := NewInterval(f, 3, []uint64{1, 2})
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	defer iv.Close()

	nextAdd, err := iv.NextUnassigned()
	if err != nil {
		t.Fatalf("next unassigned: %v", err)
	}
	if nextAdd.ID != 3 {
		t.Fatalf("expected unassigned cursor to resume at row 3, got %d", nextAdd.ID)
	}

	nextRemove, err := iv.NextAssigned()
	if err != nil {
		t.Fatalf("next assigned: %v", err)
	}
	if nextRemove.ID != 1 {
		t.Fatalf("expected assigned cursor to start at row 1, got %d", nextRemove.ID)
	}
}

func TestModelDumpLoadRoundTrip(t *testing.T) {
	models := []*mixture.Model{
		{
			Clustering: mixture.CRP{Alpha: 2.5},
			Booleans:   []mixture.BetaBernoulli{{Alpha: 1, Beta: 1}},
		},
	}
	rng := rand.New(rand.NewSource(1))
	models[0].Booleans[0].Add(true)
	_ = rng

	var buf bytes.Buffer
	if err := DumpModels(&buf, models); err != nil {
		t.Fatalf("dump: %v", err)
	}
	loaded, err := LoadModels(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Clustering.Alpha != 2.5 {
		t.Fatalf("unexpected round trip result: %+v", loaded)
	}
	if loaded[0].Booleans[0].Score(true) != models[0].Booleans[0].Score(true) {
		t.Fatalf("expected sufficient statistics to survive the round trip")
	}
}

func TestCanonicalGroupOrderSortsDescendingByRowCount(t *testing.T) {
	model := &mixture.Model{Clustering: mixture.CRP{Alpha: 1}}
	m := mixture.NewProductMixture(model, 1)
	rng := rand.New(rand.NewSource(2))
	v := schema.Value{Observed: schema.Observed{Sparsity: schema.All}}
	m.AddValue(0, v, rng)
	m.AddValue(1, v, rng)
	m.AddValue(1, v, rng)
	m.AddValue(1, v, rng)

	_, records := CanonicalGroupOrder([]KindMixture{m})
	if len(records[0]) != 2 {
		t.Fatalf("expected 2 non-empty groups, got %d", len(records[0]))
	}
	if records[0][0].RowCount < records[0][1].RowCount {
		t.Fatalf("expected descending row-count order, got %v", records[0])
	}
}

func TestScanAllIndexesByRowID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.bin")
	rows := sampleRows()
	writeRows(t, path, rows)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := ScanAll(f, len(rows))
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for _, want := range rows {
		row, ok := got[want.ID]
		if !ok {
			t.Fatalf("missing row id %d", want.ID)
		}
		if !reflect.DeepEqual(row, want) {
			t.Fatalf("row %d = %+v, want %+v", want.ID, row, want)
		}
	}
}

func TestScanAllWrapsPastEndOfCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.bin")
	rows := sampleRows()
	writeRows(t, path, rows)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Asking for more records than the file holds forces the cyclic
	// cursor to wrap, so the returned map still has exactly len(rows)
	// distinct ids rather than an error — ScanAll itself never detects
	// the wrap, it just trusts the caller's totalRows.
	got, err := ScanAll(f, len(rows)+1)
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected wrap to revisit an existing id, got %d distinct rows", len(got))
	}
}
