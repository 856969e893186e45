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

package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/snmf/base"
	"github.com/gorse-io/snmf/base/log"
	"github.com/gorse-io/snmf/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var datasetDir string

func init() {
	usr, err := user.Current()
	if err != nil {
		log.Logger().Fatal("failed to get user directory", zap.Error(err))
	}
	datasetDir = filepath.Join(usr.HomeDir, ".snmf", "dataset")
}

// Matrix is a dense matrix with optional row and column labels.
type Matrix struct {
	RowLabels []string
	ColLabels []string
	Values    [][]float64
}

// NewMatrix creates a zero matrix with the given shape.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Values: base.NewMatrix(rows, cols)}
}

func (m *Matrix) Rows() int {
	return len(m.Values)
}

func (m *Matrix) Cols() int {
	if len(m.Values) == 0 {
		return 0
	}
	return len(m.Values[0])
}

// LeftFactor wraps a fitted left factor, inheriting the row labels of m.
func (m *Matrix) LeftFactor(w [][]float64) *Matrix {
	rank := 0
	if len(w) > 0 {
		rank = len(w[0])
	}
	return &Matrix{
		RowLabels: m.RowLabels,
		ColLabels: defaultLabels("factor", rank),
		Values:    w,
	}
}

// RightFactor wraps a fitted right factor, inheriting the column labels of m.
func (m *Matrix) RightFactor(h [][]float64) *Matrix {
	return &Matrix{
		RowLabels: defaultLabels("factor", len(h)),
		ColLabels: m.ColLabels,
		Values:    h,
	}
}

// LoadCSV reads a dense matrix from a CSV file. When labeled is true, the
// first row carries column labels after a corner cell and the first cell
// of every following row carries the row label.
func LoadCSV(path string, sep rune, labeled bool) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.Comma = sep
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var rowLabels, colLabels []string
	if labeled {
		if len(records) == 0 || len(records[0]) < 2 {
			return nil, errors.NotValidf("labeled matrix in %s", path)
		}
		colLabels = records[0][1:]
		records = records[1:]
		rowLabels = make([]string, 0, len(records))
		for i := range records {
			rowLabels = append(rowLabels, records[i][0])
			records[i] = records[i][1:]
		}
		if err = checkLabels(rowLabels, "row"); err != nil {
			return nil, errors.Trace(err)
		}
		if err = checkLabels(colLabels, "column"); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, errors.NotValidf("empty matrix in %s", path)
	}
	values := base.NewMatrix(len(records), len(records[0]))
	for i, record := range records {
		for j, cell := range record {
			values[i][j], err = util.ParseFloat[float64](cell)
			if err != nil {
				return nil, errors.Annotatef(err, "cell (%d, %d)", i, j)
			}
		}
	}
	return &Matrix{RowLabels: rowLabels, ColLabels: colLabels, Values: values}, nil
}

// SaveCSV writes the matrix to a CSV file. Labels are generated when the
// matrix carries none.
func (m *Matrix) SaveCSV(path string, sep rune, labeled bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	writer.Comma = sep
	if labeled {
		rowLabels, colLabels := m.RowLabels, m.ColLabels
		if len(rowLabels) != m.Rows() {
			rowLabels = defaultLabels("row", m.Rows())
		}
		if len(colLabels) != m.Cols() {
			colLabels = defaultLabels("col", m.Cols())
		}
		if err = writer.Write(append([]string{""}, colLabels...)); err != nil {
			return errors.Trace(err)
		}
		for i, row := range m.Values {
			record := make([]string, 0, len(row)+1)
			record = append(record, rowLabels[i])
			for _, v := range row {
				record = append(record, util.FormatFloat(v))
			}
			if err = writer.Write(record); err != nil {
				return errors.Trace(err)
			}
		}
	} else {
		for _, row := range m.Values {
			record := make([]string, 0, len(row))
			for _, v := range row {
				record = append(record, util.FormatFloat(v))
			}
			if err = writer.Write(record); err != nil {
				return errors.Trace(err)
			}
		}
	}
	writer.Flush()
	return errors.Trace(writer.Error())
}

// Download fetches a remote matrix file into the local dataset cache and
// returns the cached path. Cached files are reused.
func Download(src string) (string, error) {
	tokens := strings.Split(src, "/")
	fileName := filepath.Join(datasetDir, tokens[len(tokens)-1])
	if _, err := os.Stat(fileName); err == nil {
		return fileName, nil
	}
	log.Logger().Info("download dataset",
		zap.String("source", src),
		zap.String("destination", fileName))
	if err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm); err != nil {
		return "", errors.Trace(err)
	}
	output, err := os.Create(fileName + ".tmp")
	if err != nil {
		return "", errors.Trace(err)
	}
	defer output.Close()
	resp, err := http.Get(src)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("failed to download %s: %s", src, resp.Status)
	}
	reader := progressbar.NewReader(resp.Body, progressbar.DefaultBytes(
		resp.ContentLength,
		"Downloading dataset",
	))
	if _, err = io.Copy(output, &reader); err != nil {
		return "", errors.Trace(err)
	}
	if err = output.Close(); err != nil {
		return "", errors.Trace(err)
	}
	if err = os.Rename(fileName+".tmp", fileName); err != nil {
		return "", errors.Trace(err)
	}
	return fileName, nil
}

func checkLabels(labels []string, axis string) error {
	seen := mapset.NewSetWithSize[string](len(labels))
	for _, label := range labels {
		if !seen.Add(label) {
			return errors.NotValidf("duplicate %s label %q", axis, label)
		}
	}
	return nil
}

func defaultLabels(prefix string, n int) []string {
	return lo.Map(lo.Range(n), func(i int, _ int) string {
		return fmt.Sprintf("%s%d", prefix, i)
	})
}
