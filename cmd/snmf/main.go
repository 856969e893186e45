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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorse-io/snmf/base/log"
	"github.com/gorse-io/snmf/base/progress"
	"github.com/gorse-io/snmf/cmd/version"
	"github.com/gorse-io/snmf/common/util"
	"github.com/gorse-io/snmf/config"
	"github.com/gorse-io/snmf/dataset"
	"github.com/gorse-io/snmf/model/nmf"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var snmfCommand = &cobra.Command{
	Use:   "snmf",
	Short: "Sparse non-negative matrix factorization via block coordinate descent.",
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// load config
		conf := config.GetDefaultConfig()
		if cmd.PersistentFlags().Changed("config") {
			configPath, _ := cmd.PersistentFlags().GetString("config")
			log.Logger().Info("load config", zap.String("config", configPath))
			var err error
			conf, err = config.LoadConfig(configPath)
			if err != nil {
				log.Logger().Fatal("failed to load config", zap.Error(err))
			}
		}
		overrideConfig(cmd.PersistentFlags(), conf)
		if err := conf.Validate(); err != nil {
			log.Logger().Fatal("invalid config", zap.Error(err))
		}
		if conf.Data.Input == "" {
			log.Logger().Fatal("no input matrix: set data.input or pass --input")
		}

		// load the input matrix
		path := conf.Data.Input
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			var err error
			path, err = dataset.Download(path)
			if err != nil {
				log.Logger().Fatal("failed to download input matrix", zap.Error(err))
			}
		}
		x, err := dataset.LoadCSV(path, separator(conf), conf.Data.Labeled)
		if err != nil {
			log.Logger().Fatal("failed to load input matrix", zap.Error(err))
		}
		log.Logger().Info("load input matrix",
			zap.String("path", path),
			zap.Int("n_rows", x.Rows()),
			zap.Int("n_cols", x.Cols()))

		// factorize
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ctx, span := progress.NewTracer("snmf").Start(ctx, "Factorize", 1)
		m := nmf.NewSparseNMF(conf.Model.Params())
		fitStart := time.Now()
		score, err := m.Fit(ctx, x, nmf.NewFitConfig().
			SetJobs(conf.Runtime.Jobs).
			SetVerbose(conf.Runtime.Verbose))
		if err != nil {
			log.Logger().Fatal("failed to factorize", zap.Error(err))
		}
		span.End()

		// save outputs
		if err = saveOutputs(conf, x, m, score); err != nil {
			log.Logger().Fatal("failed to save outputs", zap.Error(err))
		}

		// print summary
		if conf.Runtime.Verbose > 0 {
			table := tablewriter.NewWriter(os.Stdout)
			table.Header([]string{"Model", "Rec Err", "Fit Time", "Hyper-parameters"})
			if err = table.Append([]string{
				nmf.GetModelName(m),
				util.FormatFloat(score.RecErr),
				time.Since(fitStart).Round(time.Millisecond).String(),
				m.GetParams().ToString(),
			}); err == nil {
				err = table.Render()
			}
			if err != nil {
				log.Logger().Error("failed to print summary", zap.Error(err))
			}
		}
	},
}

func init() {
	log.AddFlags(snmfCommand.PersistentFlags())
	snmfCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	snmfCommand.PersistentFlags().BoolP("version", "v", false, "snmf version")
	snmfCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	snmfCommand.PersistentFlags().StringP("input", "i", "", "path or URL of the input matrix")
	snmfCommand.PersistentFlags().String("separator", "", "field separator of the input matrix")
	snmfCommand.PersistentFlags().Bool("labeled", false, "read row and column labels")
	snmfCommand.PersistentFlags().IntP("factors", "r", 0, "rank of the factorization")
	snmfCommand.PersistentFlags().Float64("sparsity", 0, "sparseness of the left factor columns")
	snmfCommand.PersistentFlags().Int("epochs", 0, "number of block coordinate descent iterations")
	snmfCommand.PersistentFlags().Int("inner-epochs", 0, "number of multiplicative sub-steps per iteration")
	snmfCommand.PersistentFlags().Int64("seed", 0, "seed of the random initializer")
	snmfCommand.PersistentFlags().Int("jobs", 0, "number of parallel jobs")
	snmfCommand.PersistentFlags().Int("verbose", 0, "log the objective every N epochs")
	snmfCommand.PersistentFlags().String("output-w", "", "path of the left factor")
	snmfCommand.PersistentFlags().String("output-h", "", "path of the right factor")
	snmfCommand.PersistentFlags().String("output-trace", "", "path of the objective trace")
	snmfCommand.PersistentFlags().String("output-model", "", "path of the serialized model")
}

// overrideConfig applies explicitly set flags on top of the loaded config.
func overrideConfig(flags *pflag.FlagSet, conf *config.Config) {
	if flags.Changed("input") {
		conf.Data.Input, _ = flags.GetString("input")
	}
	if flags.Changed("separator") {
		conf.Data.Separator, _ = flags.GetString("separator")
	}
	if flags.Changed("labeled") {
		conf.Data.Labeled, _ = flags.GetBool("labeled")
	}
	if flags.Changed("factors") {
		conf.Model.NFactors, _ = flags.GetInt("factors")
	}
	if flags.Changed("sparsity") {
		conf.Model.Sparsity, _ = flags.GetFloat64("sparsity")
	}
	if flags.Changed("epochs") {
		conf.Model.NEpochs, _ = flags.GetInt("epochs")
	}
	if flags.Changed("inner-epochs") {
		conf.Model.NInnerEpochs, _ = flags.GetInt("inner-epochs")
	}
	if flags.Changed("seed") {
		conf.Model.RandomState, _ = flags.GetInt64("seed")
	}
	if flags.Changed("jobs") {
		conf.Runtime.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("verbose") {
		conf.Runtime.Verbose, _ = flags.GetInt("verbose")
	}
	if flags.Changed("output-w") {
		conf.Output.W, _ = flags.GetString("output-w")
	}
	if flags.Changed("output-h") {
		conf.Output.H, _ = flags.GetString("output-h")
	}
	if flags.Changed("output-trace") {
		conf.Output.Trace, _ = flags.GetString("output-trace")
	}
	if flags.Changed("output-model") {
		conf.Output.Model, _ = flags.GetString("output-model")
	}
}

// separator returns the configured field separator. The config is validated
// to hold exactly one rune.
func separator(conf *config.Config) rune {
	return []rune(conf.Data.Separator)[0]
}

func saveOutputs(conf *config.Config, x *dataset.Matrix, m *nmf.SparseNMF, score nmf.Score) error {
	sep := separator(conf)
	if conf.Output.W != "" {
		if err := x.LeftFactor(m.W).SaveCSV(conf.Output.W, sep, conf.Data.Labeled); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save left factor", zap.String("path", conf.Output.W))
	}
	if conf.Output.H != "" {
		if err := x.RightFactor(m.H).SaveCSV(conf.Output.H, sep, conf.Data.Labeled); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save right factor", zap.String("path", conf.Output.H))
	}
	if conf.Output.Trace != "" {
		trace := &dataset.Matrix{Values: lo.Map(score.Trace, func(v float64, _ int) []float64 {
			return []float64{v}
		})}
		if err := trace.SaveCSV(conf.Output.Trace, sep, false); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save objective trace", zap.String("path", conf.Output.Trace))
	}
	if conf.Output.Model != "" {
		f, err := os.Create(conf.Output.Model)
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		if err = nmf.MarshalModel(f, m); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("save model", zap.String("path", conf.Output.Model))
	}
	return nil
}

func main() {
	if err := snmfCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
