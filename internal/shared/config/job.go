package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nemanja-m/logmr/pkg/core"
)

const (
	DefaultJob               = "admetrics"
	DefaultReducers          = 1
	DefaultSplitSize         = 128 << 20
	DefaultMaxMapAttempts    = 3
	DefaultMaxReduceAttempts = 3
	DefaultTaskTimeout       = 10 * time.Minute
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultCheckInterval     = 5 * time.Second
	DefaultSpillThreshold    = 64 << 20
	DefaultMergeFactor       = 10
)

// JobConfig contains everything needed to run one job.
type JobConfig struct {
	Job      string   `mapstructure:"job"`
	Input    []string `mapstructure:"input"`
	Output   string   `mapstructure:"output"`
	Reducers int      `mapstructure:"reducers"`
	Workers  int      `mapstructure:"workers"`

	// SplitSize is the maximum number of input bytes per map task.
	SplitSize int64 `mapstructure:"split_size"`

	Retry   RetryConfig   `mapstructure:"retry"`
	Timeout TimeoutConfig `mapstructure:"timeout"`
	Shuffle ShuffleConfig `mapstructure:"shuffle"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type RetryConfig struct {
	MaxMapAttempts    int `mapstructure:"max_map_attempts"`
	MaxReduceAttempts int `mapstructure:"max_reduce_attempts"`
}

type TimeoutConfig struct {
	// Task is how long a running attempt may go without progress.
	Task              time.Duration `mapstructure:"task"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
}

type ShuffleConfig struct {
	// Dir holds intermediate runs. Empty means a fresh temporary directory.
	Dir            string `mapstructure:"dir"`
	SpillThreshold int    `mapstructure:"spill_threshold"`
	MergeFactor    int    `mapstructure:"merge_factor"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"job":                 "job",
	"reducers":            "reducers",
	"workers":             "workers",
	"split-size":          "split_size",
	"max-attempts":        "retry.max_map_attempts",
	"max-reduce-attempts": "retry.max_reduce_attempts",
	"task-timeout":        "timeout.task",
	"shuffle-dir":         "shuffle.dir",
	"status-addr":         "status.rest.addr",
	"grpc-addr":           "status.grpc.addr",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
}

// LoadJob loads the job configuration. Values are resolved from, in order of
// precedence: flags that were set, environment variables with the LOGMR_
// prefix, the config file and defaults. If configPath is empty, logmr.yaml is
// looked up in ./config and the working directory. When flags carries
// positional arguments they must be exactly <input> <output>.
func LoadJob(configPath string, flags *pflag.FlagSet) (*JobConfig, error) {
	v := viper.New()

	v.SetDefault("job", DefaultJob)
	v.SetDefault("input", []string{})
	v.SetDefault("output", "")
	v.SetDefault("reducers", DefaultReducers)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("split_size", DefaultSplitSize)
	v.SetDefault("retry.max_map_attempts", DefaultMaxMapAttempts)
	v.SetDefault("retry.max_reduce_attempts", DefaultMaxReduceAttempts)
	v.SetDefault("timeout.task", DefaultTaskTimeout)
	v.SetDefault("timeout.heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("timeout.check_interval", DefaultCheckInterval)
	v.SetDefault("shuffle.dir", "")
	v.SetDefault("shuffle.spill_threshold", DefaultSpillThreshold)
	v.SetDefault("shuffle.merge_factor", DefaultMergeFactor)
	setStatusDefaults(v.SetDefault)
	setLoggingDefaults(v.SetDefault)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("logmr")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOGMR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}

		switch args := flags.Args(); len(args) {
		case 0:
		case 2:
			v.Set("input", []string{args[0]})
			v.Set("output", args[1])
		default:
			return nil, &core.ConfigError{Field: "args", Reason: fmt.Sprintf("expected <input> <output>, got %d arguments", len(args))}
		}
	}

	var cfg JobConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting as a *core.ConfigError.
func (c *JobConfig) Validate() error {
	switch {
	case c.Job == "":
		return &core.ConfigError{Field: "job", Reason: "must not be empty"}
	case len(c.Input) == 0:
		return &core.ConfigError{Field: "input", Reason: "at least one input location is required"}
	case c.Output == "":
		return &core.ConfigError{Field: "output", Reason: "output location is required"}
	case c.Reducers <= 0:
		return &core.ConfigError{Field: "reducers", Reason: "must be greater than 0"}
	case c.Workers <= 0:
		return &core.ConfigError{Field: "workers", Reason: "must be greater than 0"}
	case c.SplitSize <= 0:
		return &core.ConfigError{Field: "split_size", Reason: "must be greater than 0"}
	case c.Retry.MaxMapAttempts <= 0 || c.Retry.MaxReduceAttempts <= 0:
		return &core.ConfigError{Field: "retry", Reason: "attempt limits must be greater than 0"}
	case c.Timeout.Task <= 0 || c.Timeout.HeartbeatInterval <= 0 || c.Timeout.CheckInterval <= 0:
		return &core.ConfigError{Field: "timeout", Reason: "durations must be positive"}
	case c.Timeout.HeartbeatInterval >= c.Timeout.Task:
		return &core.ConfigError{Field: "timeout.heartbeat_interval", Reason: "must be shorter than timeout.task"}
	case c.Shuffle.SpillThreshold <= 0:
		return &core.ConfigError{Field: "shuffle.spill_threshold", Reason: "must be greater than 0"}
	case c.Shuffle.MergeFactor < 2:
		return &core.ConfigError{Field: "shuffle.merge_factor", Reason: "must be at least 2"}
	}
	for _, in := range c.Input {
		if in == "" {
			return &core.ConfigError{Field: "input", Reason: "input location must not be empty"}
		}
	}
	return nil
}
