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

// Package config loads the engine's invocation parameters from YAML
// using sigs.k8s.io/yaml.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Config holds one run's invocation parameters plus the on-disk paths
// the engine reads and writes.
type Config struct {
	EmptyGroupCount    int     `json:"emptyGroupCount"`
	CatExtraPasses     float64 `json:"catExtraPasses"`
	KindExtraPasses    float64 `json:"kindExtraPasses"`
	EphemeralKindCount int     `json:"ephemeralKindCount"`
	Iterations         int     `json:"iterations"`
	MaxRejectIters     int     `json:"maxRejectIters"`
	Parallel           int     `json:"parallel"`

	// RowCount is the number of distinct rowids in the window rowio.Interval
	// cycles over.
	RowCount int `json:"rowCount"`

	RowsPath   string `json:"rowsPath"`
	ModelPath  string `json:"modelPath"`
	GroupsPath string `json:"groupsPath"`
	AssignPath string `json:"assignPath"`

	// Debug enables Engine.Validate after every add, remove and
	// process_batch of the orchestration loops. The cross-checks are a full pass over every kind's
	// mixture, so they're opt-in rather than unconditional.
	Debug bool `json:"debug"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the invocation-parameter constraints.
func (c *Config) Validate() error {
	if c.EmptyGroupCount < 1 {
		return fmt.Errorf("config: empty_group_count must be >= 1, got %d", c.EmptyGroupCount)
	}
	if c.RowCount < 1 {
		return fmt.Errorf("config: row_count must be >= 1, got %d", c.RowCount)
	}
	if c.CatExtraPasses < 0 {
		return fmt.Errorf("config: cat_extra_passes must be >= 0, got %v", c.CatExtraPasses)
	}
	if c.KindExtraPasses < 0 {
		return fmt.Errorf("config: kind_extra_passes must be >= 0, got %v", c.KindExtraPasses)
	}
	if c.CatExtraPasses <= 0 && c.KindExtraPasses <= 0 {
		return fmt.Errorf("config: at least one of cat_extra_passes or kind_extra_passes must be positive")
	}
	if c.KindExtraPasses > 0 {
		if c.EphemeralKindCount < 1 {
			return fmt.Errorf("config: ephemeral_kind_count must be >= 1 when kind_extra_passes > 0, got %d", c.EphemeralKindCount)
		}
		if c.Iterations < 1 {
			return fmt.Errorf("config: iterations must be >= 1 when kind_extra_passes > 0, got %d", c.Iterations)
		}
		if c.MaxRejectIters < 1 {
			return fmt.Errorf("config: max_reject_iters must be >= 1 when kind_extra_passes > 0, got %d", c.MaxRejectIters)
		}
	}
	if c.Parallel < 0 {
		return fmt.Errorf("config: parallel must be >= 0, got %d", c.Parallel)
	}
	return nil
}
