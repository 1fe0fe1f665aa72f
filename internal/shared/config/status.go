package config

import "time"

// StatusConfig contains the optional job status servers. An empty address
// disables the corresponding server.
type StatusConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// RESTConfig contains REST status API server configuration.
type RESTConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// GRPCConfig contains gRPC health server configuration.
type GRPCConfig struct {
	Addr             string        `mapstructure:"addr"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
}

func setStatusDefaults(set func(key string, value any)) {
	set("status.rest.addr", "")
	set("status.rest.read_timeout", 15*time.Second)
	set("status.rest.write_timeout", 15*time.Second)
	set("status.rest.idle_timeout", 60*time.Second)
	set("status.grpc.addr", "")
	set("status.grpc.enable_reflection", true)
	set("status.grpc.keepalive_min_time", 30*time.Second)
}
