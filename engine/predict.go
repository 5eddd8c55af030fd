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
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/crosscatproj/crosscat/schema"
	"github.com/dchest/siphash"
)

// Predict answers a query: evidence carries the known feature values,
// target names the feature positions to fill in. For every kind it
// scores evidence against every group (giving the posterior over group
// membership given the observed features), then draws sampleCount
// independent samples per kind from that posterior and joins them back
// into full-schema DENSE values whose observed mask is target: each
// sample carries values at the target positions only, not the evidence.
//
// Per-kind draws use an RNG stream derived from seed via SipHash, the
// same construction workerpool uses to seed its consumers, so a fixed
// seed reproduces the same samples regardless of kind iteration order.
func (e *Engine) Predict(evidence schema.Value, target schema.Observed, sampleCount int, seed uint64) ([]schema.Value, error) {
	if sampleCount < 0 {
		return nil, fmt.Errorf("engine: predict: negative sample count %d", sampleCount)
	}
	evidenceParts, err := e.Kinds.ValueSplit(evidence, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: predict: splitting evidence: %w", err)
	}
	targetParts, err := e.Kinds.SplitObserved(target)
	if err != nil {
		return nil, fmt.Errorf("engine: predict: splitting target mask: %w", err)
	}

	perKindSamples := make([][]schema.Value, e.Kinds.KindCount())
	for k, kind := range e.Kinds.Kinds {
		rng := predictRand(seed, k)
		scores := kind.Mixture.ScoreValue(evidenceParts[k], rng)
		weights := expWeights(scores)

		samples := make([]schema.Value, sampleCount)
		for si := range samples {
			out := schema.Value{Observed: targetParts[k].Observed}
			kind.Mixture.SampleValue(weights, &out, rng)
			samples[si] = out
		}
		perKindSamples[k] = samples
	}

	joined := make([]schema.Value, sampleCount)
	partials := make([]schema.Value, e.Kinds.KindCount())
	for si := 0; si < sampleCount; si++ {
		for k := range partials {
			partials[k] = perKindSamples[k][si]
		}
		full, err := e.Kinds.ValueJoin(partials)
		if err != nil {
			return nil, fmt.Errorf("engine: predict: joining sample %d: %w", si, err)
		}
		joined[si] = full
	}
	return joined, nil
}

// expWeights exponentiates log scores after subtracting their max, the
// same log-sum-exp stabilization sampler.Softmax uses; unlike Softmax it
// returns the unnormalized weights instead of drawing from them, since
// mixture.ProductMixture.SampleValue normalizes internally.
func expWeights(logScores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range logScores {
		if s > max {
			max = s
		}
	}
	weights := make([]float64, len(logScores))
	for i, s := range logScores {
		weights[i] = math.Exp(s - max)
	}
	return weights
}

func predictRand(seed uint64, kindID int) *rand.Rand {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(kindID))
	lo, hi := siphash.Hash128(seed, ^seed, buf[:])
	return rand.New(rand.NewSource(int64(lo ^ hi)))
}
