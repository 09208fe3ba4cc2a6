package config

import "time"

// DaemonConfig holds daemon service configuration
type DaemonConfig struct {
	// Unix socket path for IPC
	SocketPath string `mapstructure:"socket_path" validate:"required"`

	// PID file location
	PIDFile string `mapstructure:"pid_file" validate:"required"`

	// Maximum number of concurrent containers
	MaxContainers int `mapstructure:"max_containers" validate:"min=1"`

	// Per-request handler timeout
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`

	// Health check interval for containers
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" validate:"required"`

	// Container restart policy
	RestartPolicy RestartPolicyConfig `mapstructure:"restart_policy"`

	// Timeout for a single container to honor a stop signal
	StopTimeout time.Duration `mapstructure:"stop_timeout" validate:"required"`

	// Graceful shutdown timeout for the whole daemon
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`

	// Age past which the health monitor releases any active ship assignment
	// as stale, whether or not its container is still live
	StaleAssignmentTimeout time.Duration `mapstructure:"stale_assignment_timeout" validate:"required"`

	// How long a ship may sit in-transit past its expected arrival before the
	// health monitor flags it as a recovery candidate
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" validate:"required"`

	// Recovery attempts the health monitor makes for a watched ship before
	// abandoning it
	MaxRecoveryAttempts int `mapstructure:"max_recovery_attempts" validate:"min=1"`
}

// RestartPolicyConfig holds container restart policy configuration
type RestartPolicyConfig struct {
	// Enable automatic restart on failure
	Enabled bool `mapstructure:"enabled"`

	// Maximum restart attempts before giving up
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=0"`

	// Delay between restart attempts
	Delay time.Duration `mapstructure:"delay"`

	// Backoff multiplier for retry delays
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"min=1"`
}
