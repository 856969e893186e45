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
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/gorse-io/snmf/base"
	"github.com/gorse-io/snmf/base/encoding"
	"github.com/gorse-io/snmf/base/log"
	"github.com/gorse-io/snmf/base/progress"
	"github.com/gorse-io/snmf/common/floats"
	"github.com/gorse-io/snmf/common/parallel"
	"github.com/gorse-io/snmf/dataset"
	"github.com/gorse-io/snmf/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// eps is the spacing between 1.0 and the next representable float64. It
// keeps the multiplicative denominator away from zero.
const eps = 0x1p-52

// Validation failures returned by Fit.
var (
	// ErrInvalidSparsity reports a sparseness knob outside [0, 1], or a
	// projection target no prefix length can satisfy.
	ErrInvalidSparsity = errors.New("sparsity measure is not between 0 and 1")
	// ErrMissingInitialization reports a fit with neither initial factors
	// nor a random state.
	ErrMissingInitialization = errors.New("initial factors or a random state required")
	// ErrShapeMismatch reports empty or inconsistent matrix shapes.
	ErrShapeMismatch = errors.New("matrix shapes are inconsistent")
)

// Score records the fitting quality of a factorization.
type Score struct {
	// RecErr is the Frobenius reconstruction error after the final epoch.
	RecErr float64
	// Trace records the reconstruction error before each epoch.
	Trace []float64
}

// FitConfig controls resources and logging of a fit.
type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

type Model interface {
	model.Model
	// Fit a model with a training matrix.
	Fit(ctx context.Context, x *dataset.Matrix, config *FitConfig) (Score, error)
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
}

// SparseNMF factorizes a non-negative matrix X into non-negative factors
// W and H such that every column of W has a caller-chosen sparseness. W is
// updated by block coordinate descent over its columns, H by the regular
// multiplicative updates:
//
//	min_{W,H >= 0} |X - W*H|_F  s.t.  sp(W_:i) = Sparsity
//
// Reference:
//
//	Block Coordinate Descent for Sparse NMF
//	Vamsi K. Potluru, Sergey M. Plis, Jonathan Le Roux, Barak A. Pearlmutter,
//	Vince D. Calhoun, Thomas P. Hayes
//	ICLR 2013. http://arxiv.org/abs/1301.3527
//
// Hyper-parameters:
//
//	NFactors     - The rank of the factorization. Default is 8.
//	NEpochs      - The number of updates of both factor matrices. Default is 100.
//	NInnerEpochs - The number of multiplicative sub-steps on H per epoch. Default is 10.
//	Sparsity     - The sparseness of W columns given by the measure
//	               sp(x) = (sqrt(n)-|x|_1/|x|_2)/(sqrt(n)-1). Default is 0.5.
//	RandomState  - The seed for the random initialization of W and H.
type SparseNMF struct {
	model.BaseModel
	W [][]float64 // feature matrix, m x rank
	H [][]float64 // weight matrix, rank x n
	// Hyper parameters
	nFactors     int
	nEpochs      int
	nInnerEpochs int
	sparsity     float64
	// Initial factors, consumed by the next fit
	initW [][]float64
	initH [][]float64
}

// NewSparseNMF creates a sparse NMF model.
func NewSparseNMF(params model.Params) *SparseNMF {
	s := new(SparseNMF)
	s.SetParams(params)
	return s
}

// SetParams sets hyper-parameters of the sparse NMF model.
func (s *SparseNMF) SetParams(params model.Params) {
	s.BaseModel.SetParams(params)
	s.nFactors = s.Params.GetInt(model.NFactors, 8)
	s.nEpochs = s.Params.GetInt(model.NEpochs, 100)
	s.nInnerEpochs = s.Params.GetInt(model.NInnerEpochs, 10)
	s.sparsity = s.Params.GetFloat64(model.Sparsity, 0.5)
}

// SetFactors hands initial factors to the model instead of random
// initialization. Ownership of both matrices moves to the model and the
// next fit consumes them; their shapes are validated when Fit runs.
func (s *SparseNMF) SetFactors(w, h [][]float64) {
	s.initW = w
	s.initH = h
}

func (s *SparseNMF) Clear() {
	s.W = nil
	s.H = nil
}

func (s *SparseNMF) Invalid() bool {
	return s == nil || len(s.W) == 0 || len(s.H) == 0
}

// Fit the sparse NMF model. It runs exactly NEpochs iterations with no
// convergence test and returns the objective trace alongside the final
// reconstruction error.
func (s *SparseNMF) Fit(ctx context.Context, x *dataset.Matrix, config *FitConfig) (Score, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if err := s.validate(x); err != nil {
		return Score{}, errors.Trace(err)
	}
	m, n := x.Rows(), x.Cols()
	jobs := max(config.Jobs, 1)
	log.Logger().Info("fit snmf",
		zap.Int("n_rows", m),
		zap.Int("n_cols", n),
		zap.Any("params", s.GetParams()),
		zap.Any("config", config))
	s.init(x)
	buf := newFitBuffers(m, n, s.nFactors, jobs)
	k := sparsityTarget(m, s.sparsity)
	score := Score{Trace: make([]float64, 0, s.nEpochs)}
	_, span := progress.Start(ctx, "SparseNMF.Fit", s.nEpochs)
	for ep := 1; ep <= s.nEpochs; ep++ {
		fitStart := time.Now()
		recErr, err := s.recError(ctx, x, buf, jobs)
		if err != nil {
			span.Fail(err)
			return Score{}, errors.Trace(err)
		}
		score.Trace = append(score.Trace, recErr)
		if err := s.updateW(ctx, x, buf, k, jobs); err != nil {
			span.Fail(err)
			return Score{}, errors.Trace(err)
		}
		s.updateH(x, buf)
		if config.Verbose > 0 && (ep%config.Verbose == 0 || ep == s.nEpochs) {
			log.Logger().Debug(fmt.Sprintf("fit snmf %v/%v", ep, s.nEpochs),
				zap.String("fit_time", time.Since(fitStart).String()),
				zap.Float64("rec_err", recErr))
		}
		span.Add(1)
	}
	span.End()
	recErr, err := s.recError(ctx, x, buf, jobs)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	score.RecErr = recErr
	log.Logger().Info("fit snmf complete", zap.Float64("rec_err", score.RecErr))
	return score, nil
}

func (s *SparseNMF) validate(x *dataset.Matrix) error {
	if x == nil || x.Rows() == 0 || x.Cols() == 0 {
		return errors.Annotatef(ErrShapeMismatch, "empty input matrix")
	}
	if s.nFactors <= 0 || s.nEpochs <= 0 || s.nInnerEpochs <= 0 {
		return errors.Annotatef(ErrShapeMismatch,
			"NFactors %v, NEpochs %v, NInnerEpochs %v", s.nFactors, s.nEpochs, s.nInnerEpochs)
	}
	if s.sparsity < 0 || s.sparsity > 1 {
		return errors.Annotatef(ErrInvalidSparsity, "sparsity %v", s.sparsity)
	}
	if (s.initW == nil) != (s.initH == nil) {
		return errors.Annotatef(ErrMissingInitialization, "only one initial factor supplied")
	}
	if s.initW == nil && !s.Params.Has(model.RandomState) {
		return errors.Trace(ErrMissingInitialization)
	}
	if s.initW != nil {
		if len(s.initW) != x.Rows() || len(s.initW[0]) != s.nFactors ||
			len(s.initH) != s.nFactors || len(s.initH[0]) != x.Cols() {
			return errors.Annotatef(ErrShapeMismatch, "initial factors")
		}
	}
	return nil
}

func (s *SparseNMF) init(x *dataset.Matrix) {
	if s.initW != nil {
		s.W, s.H = s.initW, s.initH
		s.initW, s.initH = nil, nil
		return
	}
	// Repeated fits of one estimator restart from the same seed.
	s.SetParams(s.Params)
	s.W = s.GetRandomGenerator().UniformMatrix(x.Rows(), s.nFactors, 0, 1)
	s.H = s.GetRandomGenerator().UniformMatrix(s.nFactors, x.Cols(), 0, 1)
}

// fitBuffers holds the scratch space reused across epochs.
type fitBuffers struct {
	hht       [][]float64 // H*H^T, rank x rank
	cache     [][]float64 // -X*H^T + W*(H*H^T), m x rank
	wtx       [][]float64 // W^T*X, rank x n
	wtw       [][]float64 // W^T*W, rank x rank
	den       [][]float64 // (W^T*W)*H, rank x n
	residuals [][]float64 // per-worker rows of length n
	negC      []float64
	sorted    []float64
	scattered []float64
	rowErr    []float64
	perm      []int
}

func newFitBuffers(m, n, rank, jobs int) *fitBuffers {
	buf := &fitBuffers{
		hht:       base.NewMatrix(rank, rank),
		cache:     base.NewMatrix(m, rank),
		wtx:       base.NewMatrix(rank, n),
		wtw:       base.NewMatrix(rank, rank),
		den:       base.NewMatrix(rank, n),
		residuals: base.NewMatrix(jobs, n),
		negC:      make([]float64, m),
		sorted:    make([]float64, m),
		scattered: make([]float64, m),
		rowErr:    make([]float64, m),
		perm:      make([]int, m),
	}
	return buf
}

// recError computes the Frobenius reconstruction error |X - W*H|_F. Row
// partials land in disjoint slots and are reduced sequentially, so the
// result is identical for any job count.
func (s *SparseNMF) recError(ctx context.Context, x *dataset.Matrix, buf *fitBuffers, jobs int) (float64, error) {
	err := parallel.Parallel(ctx, x.Rows(), jobs, func(workerId, i int) error {
		residual := buf.residuals[workerId]
		floats.Zero(residual)
		for l, w := range s.W[i] {
			floats.MulConstAdd(s.H[l], w, residual)
		}
		floats.SubTo(x.Values[i], residual, residual)
		buf.rowErr[i] = floats.Dot(residual, residual)
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	sum := 0.0
	for _, e := range buf.rowErr {
		sum += e
	}
	return math.Sqrt(sum), nil
}

// updateW rebuilds the residual cache and sweeps the columns of W in
// order. Every accepted column is folded into the cache before the next
// one is solved, so the sweep itself must stay sequential.
func (s *SparseNMF) updateW(ctx context.Context, x *dataset.Matrix, buf *fitBuffers, k float64, jobs int) error {
	m := x.Rows()
	floats.MM(false, true, s.H, s.H, buf.hht)
	err := parallel.Parallel(ctx, m, jobs, func(_, j int) error {
		for l := 0; l < s.nFactors; l++ {
			buf.cache[j][l] = floats.Dot(s.W[j], buf.hht[l]) - floats.Dot(x.Values[j], s.H[l])
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < s.nFactors; i++ {
		for j := 0; j < m; j++ {
			buf.negC[j] = s.W[j][i]*buf.hht[i][i] - buf.cache[j][i]
			buf.perm[j] = j
		}
		sort.Slice(buf.perm, func(a, b int) bool {
			return buf.negC[buf.perm[a]] > buf.negC[buf.perm[b]]
		})
		for q, idx := range buf.perm {
			buf.sorted[q] = buf.negC[idx]
		}
		z, err := projectSparse(buf.sorted, k)
		if err != nil {
			return errors.Annotatef(err, "column %v", i)
		}
		for q, idx := range buf.perm {
			buf.scattered[idx] = z[q]
		}
		for j := 0; j < m; j++ {
			floats.MulConstAdd(buf.hht[i], buf.scattered[j]-s.W[j][i], buf.cache[j])
			s.W[j][i] = buf.scattered[j]
		}
	}
	return nil
}

// updateH applies the regular multiplicative updates, holding the Gram
// products fixed across the inner steps.
func (s *SparseNMF) updateH(x *dataset.Matrix, buf *fitBuffers) {
	floats.MM(true, false, s.W, x.Values, buf.wtx)
	floats.MM(true, false, s.W, s.W, buf.wtw)
	for step := 0; step < s.nInnerEpochs; step++ {
		floats.MM(false, false, buf.wtw, s.H, buf.den)
		for r := 0; r < s.nFactors; r++ {
			floats.AddConst(buf.den[r], eps)
			floats.MulTo(s.H[r], buf.wtx[r], s.H[r])
			floats.DivTo(s.H[r], buf.den[r], s.H[r])
		}
	}
}

// Marshal model into byte stream.
func (s *SparseNMF) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, s.Params); err != nil {
		return errors.Trace(err)
	}
	// write dimensions
	dims := []int64{int64(len(s.W)), int64(len(s.H)), 0}
	if len(s.H) > 0 {
		dims[2] = int64(len(s.H[0]))
	}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		return errors.Trace(err)
	}
	// write factors
	if err := encoding.WriteMatrix(w, s.W); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteMatrix(w, s.H))
}

// Unmarshal model from byte stream.
func (s *SparseNMF) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &s.Params); err != nil {
		return errors.Trace(err)
	}
	s.SetParams(s.Params)
	// read dimensions
	dims := make([]int64, 3)
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return errors.Trace(err)
	}
	// read factors
	s.W = base.NewMatrix(int(dims[0]), int(dims[1]))
	if err := encoding.ReadMatrix(r, s.W); err != nil {
		return errors.Trace(err)
	}
	s.H = base.NewMatrix(int(dims[1]), int(dims[2]))
	return errors.Trace(encoding.ReadMatrix(r, s.H))
}

func GetModelName(m model.Model) string {
	switch m.(type) {
	case *SparseNMF:
		return "snmf"
	default:
		return reflect.TypeOf(m).String()
	}
}

func MarshalModel(w io.Writer, m Model) error {
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func UnmarshalModel(r io.Reader) (Model, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch name {
	case "snmf":
		var snmf SparseNMF
		if err := snmf.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &snmf, nil
	}
	return nil, fmt.Errorf("unknown model %v", name)
}
