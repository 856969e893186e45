// Copyright 2024 gorse Project Authors
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

package base

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

const randomEpsilon = 0.1

func TestRandomGenerator_UniformMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.UniformMatrix(1, 1000, 1, 2)[0]
	lo, hi := vec[0], vec[0]
	for _, v := range vec {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	assert.False(t, lo < 1)
	assert.False(t, hi > 2)
}

func TestRandomGenerator_NormalMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.NormalMatrix(1, 1000, 1, 2)[0]
	assert.False(t, math.Abs(stat.Mean(vec, nil)-1) > randomEpsilon)
	assert.False(t, math.Abs(stat.StdDev(vec, nil)-2) > randomEpsilon)
}

func TestRandomGenerator_Determinism(t *testing.T) {
	a := NewRandomGenerator(42).UniformMatrix(4, 8, 0, 1)
	b := NewRandomGenerator(42).UniformMatrix(4, 8, 0, 1)
	assert.Equal(t, a, b)
	c := NewRandomGenerator(43).UniformMatrix(4, 8, 0, 1)
	assert.NotEqual(t, a, c)
}
