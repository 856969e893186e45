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

package floats

// MM computes the matrix product c = op(a) * op(b) where op is the identity
// or the transpose depending on transA and transB. c is overwritten and must
// not alias a or b.
func MM(transA, transB bool, a, b, c [][]float64) {
	m, k := dims(a, transA)
	k2, n := dims(b, transB)
	cm, cn := dims(c, false)
	if k != k2 || cm != m || cn != n {
		panic("floats: matrix dimensions do not match")
	}
	MatZero(c)
	if !transA && !transB {
		for i := 0; i < m; i++ {
			for l := 0; l < k; l++ {
				// C_i += A_{il} * B_l
				MulConstAdd(b[l], a[i][l], c[i])
			}
		}
	} else if !transA && transB {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				c[i][j] = Dot(a[i], b[j])
			}
		}
	} else if transA && !transB {
		for l := 0; l < k; l++ {
			for i := 0; i < m; i++ {
				// C_i += A_{li} * B_l
				MulConstAdd(b[l], a[l][i], c[i])
			}
		}
	} else {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				for l := 0; l < k; l++ {
					c[i][j] += a[l][i] * b[j][l]
				}
			}
		}
	}
}

func dims(a [][]float64, trans bool) (row, col int) {
	row = len(a)
	if row > 0 {
		col = len(a[0])
	}
	if trans {
		row, col = col, row
	}
	return
}
