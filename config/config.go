// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	AWS      AWSConfig      `mapstructure:"aws"`
	Pooling  PoolingConfig  `mapstructure:"pooling"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Writer   WriterConfig   `mapstructure:"writer"`
}

// AWSConfig names the external AWS resources the pipeline touches.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	SourceBucket    string `mapstructure:"source_bucket"`
	DestBucket      string `mapstructure:"dest_bucket"`
	QueueURL        string `mapstructure:"queue_url"`
	StateMachineARN string `mapstructure:"state_machine_arn"`
	RoleARN         string `mapstructure:"role_arn"`
}

// PoolingConfig bounds how long a pooling pass may wait on the queue.
type PoolingConfig struct {
	MaxBatchWindowSeconds int `mapstructure:"max_batch_window_seconds"`
}

// DispatchConfig shapes the fan-out to the state machine.
type DispatchConfig struct {
	ProcessorCount   int `mapstructure:"processor_count"`
	KeysPerProcessor int `mapstructure:"keys_per_processor"`
}

// WriterConfig tunes the Parquet writers. The defaults are the output
// format contract and should not normally be changed.
type WriterConfig struct {
	MaxRowsPerFile  int64 `mapstructure:"max_rows_per_file"`
	MaxRowsPerGroup int64 `mapstructure:"max_rows_per_group"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "MEDALLION" and the dot character
// in keys is replaced by an underscore. For example, "aws.queue_url"
// becomes "MEDALLION_AWS_QUEUE_URL".
func Load() (*Config, error) {
	cfg := &Config{
		Pooling: PoolingConfig{
			MaxBatchWindowSeconds: 60,
		},
		Dispatch: DispatchConfig{
			ProcessorCount:   2,
			KeysPerProcessor: 3,
		},
		Writer: WriterConfig{
			MaxRowsPerFile:  1_000_000,
			MaxRowsPerGroup: 10_000,
		},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("MEDALLION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
