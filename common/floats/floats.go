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

// Package floats provides 64-bit float vector kernels. Results are
// independent of platform and job count, which keeps factorizations
// reproducible across machines.
package floats

func dot(a, b []float64) (ret float64) {
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

func addConst(a []float64, c float64) {
	for i := range a {
		a[i] += c
	}
}

func sub(a, b []float64) {
	for i := range a {
		a[i] -= b[i]
	}
}

func subTo(a, b, c []float64) {
	for i := range a {
		c[i] = a[i] - b[i]
	}
}

func mulTo(a, b, c []float64) {
	for i := range a {
		c[i] = a[i] * b[i]
	}
}

func mulConstAdd(a []float64, c float64, dst []float64) {
	for i := range a {
		dst[i] += a[i] * c
	}
}

func mulConstTo(a []float64, b float64, c []float64) {
	for i := range a {
		c[i] = a[i] * b
	}
}

func mulConst(a []float64, b float64) {
	for i := range a {
		a[i] *= b
	}
}

func divTo(a, b, c []float64) {
	for i := range a {
		c[i] = a[i] / b[i]
	}
}

// MatZero fills zeros in a matrix of 64-bit floats.
func MatZero(x [][]float64) {
	for i := range x {
		for j := range x[i] {
			x[i][j] = 0
		}
	}
}

// Zero fills zeros in a slice of 64-bit floats.
func Zero(a []float64) {
	for i := range a {
		a[i] = 0
	}
}

// SubTo subtracts one vector by another and saves the result in dst: dst = a - b
func SubTo(a, b, dst []float64) {
	if len(dst) != len(b) || len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	subTo(a, b, dst)
}

// Add two vectors: dst = dst + s
func Add(dst, s []float64) {
	if len(dst) != len(s) {
		panic("floats: slice lengths do not match")
	}
	for i := range dst {
		dst[i] += s[i]
	}
}

// Sub one vector by another: dst = dst - s
func Sub(dst, s []float64) {
	if len(dst) != len(s) {
		panic("floats: slice lengths do not match")
	}
	sub(dst, s)
}

// AddTo adds two vectors and saves the result in dst: dst = a + b
func AddTo(a, b, dst []float64) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] = a[i] + b[i]
	}
}

// AddConst adds a const to a vector: dst = dst + c
func AddConst(dst []float64, c float64) {
	addConst(dst, c)
}

// MulTo multiplies two vectors elementwise and saves the result in c: c = a * b
func MulTo(a, b, c []float64) {
	if len(a) != len(b) || len(a) != len(c) {
		panic("floats: slice lengths do not match")
	}
	mulTo(a, b, c)
}

// DivTo divides one vector by another elementwise and saves the result in c: c = a / b
func DivTo(a, b, c []float64) {
	if len(a) != len(b) || len(a) != len(c) {
		panic("floats: slice lengths do not match")
	}
	divTo(a, b, c)
}

// MulConst multiplies a vector with a const: dst = dst * c
func MulConst(dst []float64, c float64) {
	mulConst(dst, c)
}

// MulConstTo multiplies a vector and a const, then saves the result in dst: dst = a * c
func MulConstTo(a []float64, c float64, dst []float64) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	mulConstTo(a, c, dst)
}

// MulConstAdd multiplies a vector and a const, then adds to dst: dst = dst + a * c
func MulConstAdd(a []float64, c float64, dst []float64) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	mulConstAdd(a, c, dst)
}

// MulAddTo multiplies a vector and a vector, then adds to a vector: c += a * b
func MulAddTo(a, b, c []float64) {
	if len(a) != len(b) || len(a) != len(c) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		c[i] += a[i] * b[i]
	}
}

// Dot two vectors.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	return dot(a, b)
}
