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

// Rand is the minimal randomness capability required by the mixture
// models and the samplers built on top of them. *math/rand.Rand
// satisfies it directly; each worker pool consumer (C9) owns its own
// instance, seeded independently at spawn.
type Rand interface {
	Float64() float64
	NormFloat64() float64
	Int63() int64
}
