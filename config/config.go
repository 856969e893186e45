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

package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/snmf/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for a factorization run.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Model   ModelConfig   `mapstructure:"model"`
	Output  OutputConfig  `mapstructure:"output"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// DataConfig locates the input matrix.
type DataConfig struct {
	Input     string `mapstructure:"input"`
	Separator string `mapstructure:"separator" validate:"len=1"`
	Labeled   bool   `mapstructure:"labeled"`
}

// ModelConfig carries the hyper-parameters of the factorization.
type ModelConfig struct {
	NFactors     int     `mapstructure:"n_factors" validate:"gt=0"`
	Sparsity     float64 `mapstructure:"sparsity" validate:"gte=0,lte=1"`
	NEpochs      int     `mapstructure:"n_epochs" validate:"gt=0"`
	NInnerEpochs int     `mapstructure:"n_inner_epochs" validate:"gt=0"`
	RandomState  int64   `mapstructure:"random_state"`
}

// OutputConfig names the files written after a fit. Empty entries are
// skipped.
type OutputConfig struct {
	W     string `mapstructure:"w"`
	H     string `mapstructure:"h"`
	Trace string `mapstructure:"trace"`
	Model string `mapstructure:"model"`
}

// RuntimeConfig controls execution.
type RuntimeConfig struct {
	Jobs    int `mapstructure:"jobs" validate:"gt=0"`
	Verbose int `mapstructure:"verbose" validate:"gte=0"`
}

// GetDefaultConfig returns a default config.
func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Separator: ",",
		},
		Model: ModelConfig{
			NFactors:     8,
			Sparsity:     0.5,
			NEpochs:      100,
			NInnerEpochs: 10,
		},
		Runtime: RuntimeConfig{
			Jobs:    1,
			Verbose: 10,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [data]
	viper.SetDefault("data.separator", defaultConfig.Data.Separator)
	viper.SetDefault("data.labeled", defaultConfig.Data.Labeled)
	// [model]
	viper.SetDefault("model.n_factors", defaultConfig.Model.NFactors)
	viper.SetDefault("model.sparsity", defaultConfig.Model.Sparsity)
	viper.SetDefault("model.n_epochs", defaultConfig.Model.NEpochs)
	viper.SetDefault("model.n_inner_epochs", defaultConfig.Model.NInnerEpochs)
	viper.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	// [runtime]
	viper.SetDefault("runtime.jobs", defaultConfig.Runtime.Jobs)
	viper.SetDefault("runtime.verbose", defaultConfig.Runtime.Verbose)
}

// LoadConfig loads the configuration from a TOML file. Environment
// variables take precedence over the file.
func LoadConfig(path string) (*Config, error) {
	setDefault()

	// bind environment variables
	bindings := []struct {
		key string
		env string
	}{
		{"data.input", "SNMF_DATA_INPUT"},
		{"data.separator", "SNMF_DATA_SEPARATOR"},
		{"data.labeled", "SNMF_DATA_LABELED"},
		{"model.n_factors", "SNMF_N_FACTORS"},
		{"model.sparsity", "SNMF_SPARSITY"},
		{"model.n_epochs", "SNMF_N_EPOCHS"},
		{"model.n_inner_epochs", "SNMF_N_INNER_EPOCHS"},
		{"model.random_state", "SNMF_RANDOM_STATE"},
		{"output.w", "SNMF_OUTPUT_W"},
		{"output.h", "SNMF_OUTPUT_H"},
		{"output.trace", "SNMF_OUTPUT_TRACE"},
		{"output.model", "SNMF_OUTPUT_MODEL"},
		{"runtime.jobs", "SNMF_JOBS"},
		{"runtime.verbose", "SNMF_VERBOSE"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks that the configuration describes a feasible run.
func (config *Config) Validate() error {
	return errors.Trace(validator.New().Struct(config))
}

// Params assembles the hyper-parameters for a SparseNMF estimator.
func (config *ModelConfig) Params() model.Params {
	return model.Params{
		model.NFactors:     config.NFactors,
		model.NEpochs:      config.NEpochs,
		model.NInnerEpochs: config.NInnerEpochs,
		model.Sparsity:     config.Sparsity,
		model.RandomState:  config.RandomState,
	}
}
