// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nmf

import (
	"math"

	"github.com/juju/errors"
)

// sparsityTarget converts the sparseness knob in [0, 1] into the target
// l1/l2 ratio for a column of length m:
//
//	k = sqrt(m) - spar*(sqrt(m) - 1)
//
// spar = 0 keeps columns dense (k = sqrt(m)), spar = 1 drives them down
// to a single non-zero entry (k = 1).
func sparsityTarget(m int, spar float64) float64 {
	return math.Sqrt(float64(m)) - spar*(math.Sqrt(float64(m))-1)
}

// projectSparse returns the closest non-negative vector to b with l1/l2
// ratio k, following Potluru et al. (ICLR 2013). b must be sorted in
// decreasing order. The target is unsatisfiable when k*k >= len(b).
func projectSparse(b []float64, k float64) ([]float64, error) {
	m := len(b)
	if k*k >= float64(m) {
		return nil, errors.Trace(ErrInvalidSparsity)
	}
	sumb := make([]float64, m)
	normb := make([]float64, m)
	sum, norm := 0.0, 0.0
	for q, v := range b {
		sum += v
		norm += v * v
		sumb[q] = sum
		normb[q] = norm
	}
	// The leading p+1 entries survive, the rest are zeroed. Prefixes
	// shorter than k*k cannot reach the ratio, so the scan starts at
	// floor(k*k). Inside the window the denominator of y stays positive
	// and the numerator is non-negative by Cauchy-Schwarz. Candidates
	// whose smallest kept entry would turn negative are skipped; the
	// shortest prefix always admits a non-negative solution.
	bot := int(math.Floor(k * k))
	y := func(q int) float64 {
		return (float64(q+1)*normb[q] - sumb[q]*sumb[q]) / (float64(q+1) - k*k)
	}
	mu := func(q int, lam float64) float64 {
		return -sumb[q]/float64(q+1) + k/float64(q+1)*lam
	}
	p, best := -1, math.Inf(-1)
	for q := bot; q < m; q++ {
		lam := math.Sqrt(y(q))
		if b[q]+mu(q, lam) < 0 {
			continue
		}
		if obj := (-lam*(float64(q+1)+k) + sumb[q]) / float64(q+1); obj > best {
			best = obj
			p = q
		}
	}
	if p < 0 {
		// Rounding can reject even the shortest prefix.
		p = bot
	}
	lam := math.Sqrt(y(p))
	mue := mu(p, lam)
	z := make([]float64, m)
	for q := 0; q <= p; q++ {
		z[q] = (b[q] + mue) / lam
	}
	return z, nil
}
