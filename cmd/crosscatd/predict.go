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
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"

	"github.com/crosscatproj/crosscat/config"
	"github.com/crosscatproj/crosscat/engine"
	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schema"
	"github.com/google/uuid"
)

// predictRequest is the JSON shape a predict invocation reads from
// stdin: the known feature values plus the target positions to fill in.
type predictRequest struct {
	Evidence    schema.Value    `json:"evidence"`
	Target      schema.Observed `json:"target"`
	SampleCount int             `json:"sampleCount"`
	Seed        uint64          `json:"seed"`
}

// runPredict loads a previously dumped run and answers one predict
// query read as JSON from stdin, writing the drawn samples as JSON to
// stdout.
func runPredict(args []string) {
	cmd := flag.NewFlagSet("predict", flag.ExitOnError)
	configPath := cmd.String("c", "crosscat.yaml", "path to the invocation-parameter config")
	bootstrapPath := cmd.String("b", "bootstrap.yaml", "path to the schema/partition/model bootstrap config")

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

	kinds, store, groups, rowValues, err := resumeState(cfg, boot, rowFile)
	if err != nil {
		logger.Fatal(err)
	}

	e := engine.New(kinds, store, rand.New(rand.NewSource(1)), logger, uuid.New(), cfg.EmptyGroupCount, kinds.KindCount(), 1)
	defer e.Close()
	if err := e.Restore(groups, toValues(rowValues)); err != nil {
		logger.Fatal(err)
	}

	var req predictRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		logger.Fatal(err)
	}

	samples, err := e.Predict(req.Evidence, req.Target, req.SampleCount, req.Seed)
	if err != nil {
		logger.Fatal(err)
	}
	if err := json.NewEncoder(os.Stdout).Encode(samples); err != nil {
		logger.Fatal(err)
	}
}
