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

import "math"

// BetaBernoulli is a Beta-Bernoulli conjugate sufficient statistic for a
// single boolean feature within a single group.
type BetaBernoulli struct {
	Alpha, Beta float64
	n           int64
	s           int64 // count of observed-true
}

func (b *BetaBernoulli) Add(x bool) {
	b.n++
	if x {
		b.s++
	}
}

func (b *BetaBernoulli) Remove(x bool) {
	b.n--
	if x {
		b.s--
	}
}

// Score returns log P(x | current sufficient statistics), i.e. the
// predictive probability of x under the posterior formed from the data
// observed so far (not including x itself).
func (b *BetaBernoulli) Score(x bool) float64 {
	p1 := (b.Alpha + float64(b.s)) / (b.Alpha + b.Beta + float64(b.n))
	if x {
		return math.Log(p1)
	}
	return math.Log1p(-p1)
}

// Sample draws a value from the predictive distribution.
func (b *BetaBernoulli) Sample(rng Rand) bool {
	p1 := (b.Alpha + float64(b.s)) / (b.Alpha + b.Beta + float64(b.n))
	return rng.Float64() < p1
}

// GammaPoisson is a Gamma-Poisson conjugate sufficient statistic for a
// single count feature within a single group (the spec's "Poisson-gamma-
// like counts" family).
type GammaPoisson struct {
	Shape, Rate float64
	n           int64
	sum         int64
}

func (g *GammaPoisson) Add(x int64) {
	g.n++
	g.sum += x
}

func (g *GammaPoisson) Remove(x int64) {
	g.n--
	g.sum -= x
}

// Score returns the log negative-binomial predictive probability of x.
func (g *GammaPoisson) Score(x int64) float64 {
	r := g.Shape + float64(g.sum)
	p := (g.Rate + float64(g.n)) / (g.Rate + float64(g.n) + 1)
	fx := float64(x)
	return lgamma(fx+r) - lgamma(r) - lgamma(fx+1) + r*math.Log(p) + fx*math.Log1p(-p)
}

// Sample draws a value from the negative-binomial predictive distribution
// by inverse-CDF search; counts are small enough in practice that a
// linear scan is adequate for a reference model.
func (g *GammaPoisson) Sample(rng Rand) int64 {
	u := rng.Float64()
	var cum float64
	for x := int64(0); x < 1<<20; x++ {
		cum += math.Exp(g.Score(x))
		if u <= cum {
			return x
		}
	}
	return 1 << 20
}

// NormalInverseChiSq is a Normal-Inverse-Chi-Squared conjugate sufficient
// statistic for a single real-valued feature within a single group (the
// spec's "normal-inverse-chi-squared reals" family). Sufficient
// statistics are kept as raw float64 sums and Remove subtracts exactly
// what Add added; an Add/Remove pair restores them bit for bit only when
// the additions round nothing off (e.g. from zero), not in general.
type NormalInverseChiSq struct {
	Mu0, Kappa0, Nu0, Sigma0Sq float64
	n                          int64
	sum, sumSq                 float64
}

func (d *NormalInverseChiSq) Add(x float64) {
	d.n++
	d.sum += x
	d.sumSq += x * x
}

func (d *NormalInverseChiSq) Remove(x float64) {
	d.n--
	d.sum -= x
	d.sumSq -= x * x
}

// posterior returns the current posterior (kappa_n, mu_n, nu_n, sigma_n^2).
func (d *NormalInverseChiSq) posterior() (kappan, mun, nun, sigman2 float64) {
	n := float64(d.n)
	kappan = d.Kappa0 + n
	if n == 0 {
		return kappan, d.Mu0, d.Nu0, d.Sigma0Sq
	}
	mean := d.sum / n
	mun = (d.Kappa0*d.Mu0 + n*mean) / kappan
	nun = d.Nu0 + n
	sumSqDev := d.sumSq - n*mean*mean
	if sumSqDev < 0 {
		sumSqDev = 0
	}
	scatter := d.Nu0*d.Sigma0Sq + sumSqDev + (d.Kappa0*n/kappan)*(mean-d.Mu0)*(mean-d.Mu0)
	sigman2 = scatter / nun
	return
}

// Score returns the log Student-t predictive density of x.
func (d *NormalInverseChiSq) Score(x float64) float64 {
	kappan, mun, nun, sigman2 := d.posterior()
	scale2 := sigman2 * (kappan + 1) / kappan
	return studentTLogPDF(x, nun, mun, scale2)
}

// Sample draws a value from the Student-t predictive distribution.
func (d *NormalInverseChiSq) Sample(rng Rand) float64 {
	kappan, mun, nun, sigman2 := d.posterior()
	scale2 := sigman2 * (kappan + 1) / kappan
	return mun + math.Sqrt(scale2)*sampleStandardT(rng, nun)
}

func studentTLogPDF(x, df, loc, scale2 float64) float64 {
	z2 := (x - loc) * (x - loc) / (df * scale2)
	return lgamma((df+1)/2) - lgamma(df/2) -
		0.5*math.Log(df*math.Pi*scale2) -
		((df+1)/2)*math.Log1p(z2)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// sampleStandardT draws from a standard (loc=0, scale=1) Student-t
// distribution with the given degrees of freedom via a normal/chi-square
// ratio, adequate for a reference predictive sampler.
func sampleStandardT(rng Rand, df float64) float64 {
	z := rng.NormFloat64()
	chi2 := sampleChiSq(rng, df)
	return z / math.Sqrt(chi2/df)
}

// sampleChiSq draws from a chi-square distribution via the sum of k
// squared normals when k is a small integer, otherwise a Wilson-Hilferty
// normal approximation; adequate for a reference predictive sampler.
func sampleChiSq(rng Rand, df float64) float64 {
	if df == math.Trunc(df) && df > 0 && df < 200 {
		var sum float64
		for i := 0; i < int(df); i++ {
			z := rng.NormFloat64()
			sum += z * z
		}
		return sum
	}
	z := rng.NormFloat64()
	v := 1 - 2/(9*df) + z*math.Sqrt(2/(9*df))
	return df * v * v * v
}
