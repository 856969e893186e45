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
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_Copy(t *testing.T) {
	// Create parameters
	a := Params{
		NFactors:    1,
		Sparsity:    0.1,
		RandomState: 0,
	}
	// Create copy
	b := a.Copy()
	b[NFactors] = 2
	b[Sparsity] = 0.2
	b[RandomState] = 1
	// Check original parameters
	assert.Equal(t, 1, a.GetInt(NFactors, -1))
	assert.Equal(t, 0.1, a.GetFloat64(Sparsity, -0.1))
	assert.Equal(t, int64(0), a.GetInt64(RandomState, -1))
	// Check copy parameters
	assert.Equal(t, 2, b.GetInt(NFactors, -1))
	assert.Equal(t, 0.2, b.GetFloat64(Sparsity, -0.1))
	assert.Equal(t, int64(1), b.GetInt64(RandomState, -1))
}

func TestParams_Has(t *testing.T) {
	p := Params{RandomState: 0}
	assert.True(t, p.Has(RandomState))
	assert.False(t, p.Has(NFactors))
}

func TestParams_GetInt(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, -1, p.GetInt(NFactors, -1))
	// Normal case
	p[NFactors] = 0
	assert.Equal(t, 0, p.GetInt(NFactors, -1))
	// Wrong type case
	p[NFactors] = "hello"
	assert.Equal(t, -1, p.GetInt(NFactors, -1))
}

func TestParams_GetInt64(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, int64(-1), p.GetInt64(RandomState, -1))
	// Normal case
	p[RandomState] = int64(0)
	assert.Equal(t, int64(0), p.GetInt64(RandomState, -1))
	// Wrong type case
	p[RandomState] = 0
	assert.Equal(t, int64(0), p.GetInt64(RandomState, -1))
	p[RandomState] = "hello"
	assert.Equal(t, int64(-1), p.GetInt64(RandomState, -1))
}

func TestParams_GetBool(t *testing.T) {
	p := Params{}
	// Empty case
	assert.True(t, p.GetBool(NFactors, true))
	// Normal case
	p[NFactors] = false
	assert.False(t, p.GetBool(NFactors, true))
	// Wrong type case
	p[NFactors] = 1
	assert.True(t, p.GetBool(NFactors, true))
}

func TestParams_GetString(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, "a", p.GetString(NFactors, "a"))
	// Normal case
	p[NFactors] = "b"
	assert.Equal(t, "b", p.GetString(NFactors, "a"))
	// Wrong type case
	p[NFactors] = 1
	assert.Equal(t, "a", p.GetString(NFactors, "a"))
}

func TestParams_GetFloat64(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, 0.1, p.GetFloat64(Sparsity, 0.1))
	// Normal case
	p[Sparsity] = 1.0
	assert.Equal(t, 1.0, p.GetFloat64(Sparsity, 0.1))
	// Wrong type case
	p[Sparsity] = 1
	assert.Equal(t, 1.0, p.GetFloat64(Sparsity, 0.1))
	p[Sparsity] = "hello"
	assert.Equal(t, 0.1, p.GetFloat64(Sparsity, 0.1))
}

func TestParams_Overwrite(t *testing.T) {
	a := Params{
		NFactors: 4,
		NEpochs:  10,
	}
	b := a.Overwrite(Params{
		NEpochs:     20,
		RandomState: 42,
	})
	assert.Equal(t, 4, b.GetInt(NFactors, -1))
	assert.Equal(t, 20, b.GetInt(NEpochs, -1))
	assert.Equal(t, int64(42), b.GetInt64(RandomState, -1))
	// The receiver is untouched.
	assert.Equal(t, 10, a.GetInt(NEpochs, -1))
	assert.False(t, a.Has(RandomState))
}
