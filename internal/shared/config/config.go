// Package config loads job settings from defaults, an optional YAML file,
// LOGMR_ environment variables and command-line flags.
package config

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// LoggingConfig selects the level and handler (json or text) of the job log.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setLoggingDefaults(set func(key string, value any)) {
	set("logging.level", DefaultLogLevel)
	set("logging.format", DefaultLogFormat)
}
