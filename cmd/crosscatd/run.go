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

package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/config"
	"github.com/crosscatproj/crosscat/engine"
	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schedule"
	"github.com/crosscatproj/crosscat/schema"
	"github.com/google/uuid"
)

// runInfer drives one end-to-end invocation: load the config and
// bootstrap documents, build or resume the kind set and assignment
// store, run the configured schedule, then dump the resulting state
// back to the paths named in the config.
func runInfer(args []string) {
	cmd := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := cmd.String("c", "crosscat.yaml", "path to the invocation-parameter config")
	bootstrapPath := cmd.String("b", "bootstrap.yaml", "path to the schema/partition/model bootstrap config")
	resume := cmd.Bool("resume", false, "resume from the model/groups/assignment paths in the config instead of starting fresh")
	seed := cmd.Int64("seed", 1, "RNG seed")

	if cmd.Parse(args) != nil {
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	boot, err := config.LoadBootstrap(*bootstrapPath)
	if err != nil {
		logger.Fatal(err)
	}

	rowFile, err := rowio.Open(cfg.RowsPath)
	if err != nil {
		logger.Fatal(err)
	}

	rng := rand.New(rand.NewSource(*seed))
	runID := uuid.New()

	var kinds *kindset.Set
	var store *assign.Store
	var groups [][]rowio.GroupRecord
	var rowValues map[uint64]rowio.Row
	if *resume {
		kinds, store, groups, rowValues, err = resumeState(cfg, boot, rowFile)
	} else {
		kinds, err = boot.Build(cfg.EmptyGroupCount)
		if err == nil {
			store = assign.New(kinds.KindCount())
		}
	}
	if err != nil {
		logger.Fatal(err)
	}

	iv, err := rowio.NewInterval(rowFile, cfg.RowCount, store.RowIDs())
	if err != nil {
		logger.Fatal(err)
	}
	defer iv.Close()

	poolCapacity := cfg.Parallel
	if poolCapacity <= 0 {
		poolCapacity = kinds.KindCount()
	}
	e := engine.New(kinds, store, rng, logger, runID, cfg.EmptyGroupCount, poolCapacity, uint64(*seed))
	e.Debug = cfg.Debug
	defer e.Close()

	if *resume {
		if err := e.Restore(groups, toValues(rowValues)); err != nil {
			logger.Fatal(err)
		}
	} else {
		if err := e.SinglePassAdd(iv, cfg.RowCount); err != nil {
			logger.Fatal(err)
		}
	}

	var ks *engine.KindStructureParams
	if cfg.KindExtraPasses > 0 {
		ks = &engine.KindStructureParams{
			EphemeralKindCount: cfg.EphemeralKindCount,
			Iterations:         cfg.Iterations,
			MaxRejectIters:     cfg.MaxRejectIters,
		}
	}
	if cfg.CatExtraPasses > 0 || ks != nil {
		sched := schedule.New(store.RowCount(), cfg.CatExtraPasses, store.RowCount())
		if err := e.RunSchedule(iv, sched, ks); err != nil {
			logger.Fatal(err)
		}
	}

	if err := dumpRun(cfg, kinds, store); err != nil {
		logger.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "run %s complete: %d rows assigned across %d kinds\n", runID, store.RowCount(), kinds.KindCount())
}

// resumeState loads the kind set, assignment store, canonical group
// records, and cached row values needed for a resumed run. The
// structural parameters (schema, partition, clustering, grid) come from
// boot, since the dump format doesn't carry them; the per-kind
// hyperparameters and group sufficient statistics come from the
// previous run's dump (DESIGN.md "config.Bootstrap and cmd/crosscatd"). The
// caller replays groups/rowValues through a freshly constructed
// Engine's Restore method.
func resumeState(cfg *config.Config, boot *config.Bootstrap, rowFile *rowio.File) (*kindset.Set, *assign.Store, [][]rowio.GroupRecord, map[uint64]rowio.Row, error) {
	modelFile, err := os.Open(cfg.ModelPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer modelFile.Close()
	models, err := rowio.LoadModels(modelFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	groupsFile, err := os.Open(cfg.GroupsPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer groupsFile.Close()
	groups, err := rowio.LoadGroups(groupsFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	assignFile, err := os.Open(cfg.AssignPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer assignFile.Close()
	store, err := rowio.LoadAssignments(assignFile, len(models))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// emptyGroupCount is 0 here: Engine.Restore's RestoreGroups call
	// registers the dumped groups' own global ids starting at 0, which
	// would collide with ids kindset.New would otherwise mint for a
	// surplus (see DESIGN.md).
	kinds, err := boot.BuildWithModels(models, 0)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	rowValues, err := rowio.ScanAll(rowFile, cfg.RowCount)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return kinds, store, groups, rowValues, nil
}

// toValues projects a rowid->Row map down to rowid->Value, the shape
// Engine.Restore expects.
func toValues(rows map[uint64]rowio.Row) map[uint64]schema.Value {
	values := make(map[uint64]schema.Value, len(rows))
	for id, row := range rows {
		values[id] = row.Value
	}
	return values
}

// dumpRun writes the final model, canonical groups, and assignments to
// the paths in cfg as independent length-delimited streams.
func dumpRun(cfg *config.Config, kinds *kindset.Set, store *assign.Store) error {
	modelFile, err := os.Create(cfg.ModelPath)
	if err != nil {
		return err
	}
	defer modelFile.Close()
	models := make([]*mixture.Model, len(kinds.Kinds))
	mixtures := make([]rowio.KindMixture, len(kinds.Kinds))
	for k, kind := range kinds.Kinds {
		models[k] = kind.Mixture.Model
		mixtures[k] = kind.Mixture
	}
	if err := rowio.DumpModels(modelFile, models); err != nil {
		return err
	}

	remap, records := rowio.CanonicalGroupOrder(mixtures)

	groupsFile, err := os.Create(cfg.GroupsPath)
	if err != nil {
		return err
	}
	defer groupsFile.Close()
	if err := rowio.DumpGroups(groupsFile, records); err != nil {
		return err
	}

	assignFile, err := os.Create(cfg.AssignPath)
	if err != nil {
		return err
	}
	defer assignFile.Close()
	return rowio.DumpAssignments(assignFile, store, remap)
}
