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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMatrix(t *testing.T) {
	a := NewMatrix(3, 4)
	assert.Equal(t, 3, len(a))
	assert.Equal(t, 4, len(a[0]))
}

func TestCopyMatrix(t *testing.T) {
	a := [][]float64{{1, 2}, {3, 4}}
	b := CopyMatrix(a)
	assert.Equal(t, a, b)
	b[0][0] = 5
	assert.Equal(t, 1.0, a[0][0])
}

func TestRangeInt(t *testing.T) {
	a := RangeInt(5)
	assert.Equal(t, 5, len(a))
	for i := range a {
		assert.Equal(t, i, a[i])
	}
}
