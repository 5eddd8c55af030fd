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
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/mixture"
)

// DumpModels writes one mixture.Model per kind to w, zstd-compressed.
func DumpModels(w io.Writer, models []*mixture.Model) error {
	enc, err := compressedWriter(w)
	if err != nil {
		return err
	}
	defer enc.Close()
	if err := gob.NewEncoder(enc).Encode(models); err != nil {
		return fmt.Errorf("rowio: encoding models: %w", err)
	}
	return nil
}

// LoadModels is the inverse of DumpModels.
func LoadModels(r io.Reader) ([]*mixture.Model, error) {
	dec, err := compressedReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var models []*mixture.Model
	if err := gob.NewDecoder(dec).Decode(&models); err != nil {
		return nil, fmt.Errorf("rowio: decoding models: %w", err)
	}
	return models, nil
}

// GroupRecord describes one non-empty group within one kind, using the
// canonical global id assigned at dump time.
type GroupRecord struct {
	KindIndex int
	GlobalID  uint64
	RowCount  int
}

// KindMixture is the minimal view CanonicalGroupOrder needs of a kind's mixture;
// satisfied by *mixture.ProductMixture.
type KindMixture interface {
	GroupCount() int
	GroupRowCount(g int) int
	IDs() *mixture.IDTracker
}

// CanonicalGroupOrder computes, for each kind's mixture, a remapping from
// the group's current global id to a canonical global id: groups sorted
// by descending row count, ties broken by ascending packed id (DESIGN.md
// "Canonical group sort on dump"). Empty groups (the `empty_group_count`
// surplus) are excluded; they carry no data and are recreated on load.
func CanonicalGroupOrder(mixtures []KindMixture) (remap []map[uint64]uint64, records [][]GroupRecord) {
	remap = make([]map[uint64]uint64, len(mixtures))
	records = make([][]GroupRecord, len(mixtures))
	for k, m := range mixtures {
		type entry struct {
			packed   int
			global   uint64
			rowCount int
		}
		var entries []entry
		for p := 0; p < m.GroupCount(); p++ {
			rc := m.GroupRowCount(p)
			if rc == 0 {
				continue
			}
			entries = append(entries, entry{p, m.IDs().PackedToGlobal(p), rc})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].rowCount != entries[j].rowCount {
				return entries[i].rowCount > entries[j].rowCount
			}
			return entries[i].packed < entries[j].packed
		})
		remap[k] = make(map[uint64]uint64, len(entries))
		records[k] = make([]GroupRecord, len(entries))
		for newID, e := range entries {
			remap[k][e.global] = uint64(newID)
			records[k][newID] = GroupRecord{KindIndex: k, GlobalID: uint64(newID), RowCount: e.rowCount}
		}
	}
	return remap, records
}

// DumpGroups writes the canonical group records (as computed by
// CanonicalGroupOrder) to w, zstd-compressed.
func DumpGroups(w io.Writer, records [][]GroupRecord) error {
	enc, err := compressedWriter(w)
	if err != nil {
		return err
	}
	defer enc.Close()
	if err := gob.NewEncoder(enc).Encode(records); err != nil {
		return fmt.Errorf("rowio: encoding groups: %w", err)
	}
	return nil
}

// LoadGroups is the inverse of DumpGroups.
func LoadGroups(r io.Reader) ([][]GroupRecord, error) {
	dec, err := compressedReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var records [][]GroupRecord
	if err := gob.NewDecoder(dec).Decode(&records); err != nil {
		return nil, fmt.Errorf("rowio: decoding groups: %w", err)
	}
	return records, nil
}

// assignmentRecord is one row's per-kind canonical global group ids.
type assignmentRecord struct {
	RowID    uint64
	GroupIDs []uint64
}

// DumpAssignments writes the assignment store to w, zstd-compressed,
// rewriting every global group id through remap (as produced by
// CanonicalGroupOrder) so the dumped assignment stream refers only to
// canonical ids.
func DumpAssignments(w io.Writer, store *assign.Store, remap []map[uint64]uint64) error {
	enc, err := compressedWriter(w)
	if err != nil {
		return err
	}
	defer enc.Close()
	gw := gob.NewEncoder(enc)
	rowids := store.RowIDs()
	for i, rowid := range rowids {
		rec := assignmentRecord{RowID: rowid, GroupIDs: make([]uint64, store.KindCount())}
		for k := 0; k < store.KindCount(); k++ {
			old := store.GroupIDs(k)[i]
			rec.GroupIDs[k] = remap[k][old]
		}
		if err := gw.Encode(&rec); err != nil {
			return fmt.Errorf("rowio: encoding assignment for row %d: %w", rowid, err)
		}
	}
	return nil
}

// LoadAssignments is the inverse of DumpAssignments, replaying every
// record into a fresh assign.Store.
func LoadAssignments(r io.Reader, kindCount int) (*assign.Store, error) {
	dec, err := compressedReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	store := assign.New(kindCount)
	gr := gob.NewDecoder(dec)
	for {
		var rec assignmentRecord
		if err := gr.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("rowio: decoding assignment: %w", err)
		}
		if err := store.AppendRow(rec.RowID, rec.GroupIDs); err != nil {
			return nil, fmt.Errorf("rowio: replaying assignment for row %d: %w", rec.RowID, err)
		}
	}
	return store, nil
}
