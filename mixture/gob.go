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
	"bytes"
	"encoding/gob"
)

// The conjugate sufficient-statistic types keep their running counts
// unexported so Add/Remove stay the only mutators; GobEncode/GobDecode
// give rowio's model/groups dump a way to persist that state without
// opening it up to the rest of the package.

type betaBernoulliWire struct {
	Alpha, Beta float64
	N, S        int64
}

func (b BetaBernoulli) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(betaBernoulliWire{b.Alpha, b.Beta, b.n, b.s})
	return buf.Bytes(), err
}

func (b *BetaBernoulli) GobDecode(data []byte) error {
	var w betaBernoulliWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.Alpha, b.Beta, b.n, b.s = w.Alpha, w.Beta, w.N, w.S
	return nil
}

type gammaPoissonWire struct {
	Shape, Rate float64
	N, Sum      int64
}

func (g GammaPoisson) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(gammaPoissonWire{g.Shape, g.Rate, g.n, g.sum})
	return buf.Bytes(), err
}

func (g *GammaPoisson) GobDecode(data []byte) error {
	var w gammaPoissonWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	g.Shape, g.Rate, g.n, g.sum = w.Shape, w.Rate, w.N, w.Sum
	return nil
}

type normalInverseChiSqWire struct {
	Mu0, Kappa0, Nu0, Sigma0Sq float64
	N                          int64
	Sum, SumSq                 float64
}

func (d NormalInverseChiSq) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(normalInverseChiSqWire{d.Mu0, d.Kappa0, d.Nu0, d.Sigma0Sq, d.n, d.sum, d.sumSq})
	return buf.Bytes(), err
}

func (d *NormalInverseChiSq) GobDecode(data []byte) error {
	var w normalInverseChiSqWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	d.Mu0, d.Kappa0, d.Nu0, d.Sigma0Sq, d.n, d.sum, d.sumSq = w.Mu0, w.Kappa0, w.Nu0, w.Sigma0Sq, w.N, w.Sum, w.SumSq
	return nil
}
