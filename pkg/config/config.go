// Package config loads the scheduler's tunables from a YAML file, with
// environment variable overrides and sensible defaults baked in.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the scheduling loop and its retry envelope
// consult.
type Config struct {
	// DataDir is where the default BoltDB-backed persistence store and
	// raft state live.
	DataDir string `yaml:"data_dir"`

	// Delay is how long the loop sleeps after a round that launched
	// nothing.
	Delay time.Duration `yaml:"delay"`

	// MaxNewJobExes is the hard per-round ceiling on queued-execution
	// admissions.
	MaxNewJobExes int `yaml:"max_new_job_exes"`

	// ScheduleLoopWarnThreshold is the whole-round duration above which
	// the loop logs a warning instead of a debug line.
	ScheduleLoopWarnThreshold time.Duration `yaml:"schedule_loop_warn_threshold"`

	// ScheduleQueryWarnThreshold is the schedule_job_executions call
	// duration above which the loop logs a warning.
	ScheduleQueryWarnThreshold time.Duration `yaml:"schedule_query_warn_threshold"`

	// RetryMaxTries, RetryBaseDelay, RetryMaxDelay parameterize the
	// exponential backoff envelope around schedule_job_executions.
	RetryMaxTries  int           `yaml:"retry_max_tries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	// CleanupTaskBatchSize is the per-node cap on how many cleanup
	// entries are drained into a single synthesized cleanup task.
	CleanupTaskBatchSize int `yaml:"cleanup_task_batch_size"`
}

// Default returns the baked-in tunable defaults.
func Default() Config {
	return Config{
		DataDir:                    "./data",
		Delay:                      5 * time.Second,
		MaxNewJobExes:              500,
		ScheduleLoopWarnThreshold:  1 * time.Second,
		ScheduleQueryWarnThreshold: 100 * time.Millisecond,
		RetryMaxTries:              5,
		RetryBaseDelay:             1 * time.Second,
		RetryMaxDelay:              5 * time.Second,
		CleanupTaskBatchSize:       25,
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// CORRAL_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.MaxNewJobExes <= 0 {
		return cfg, fmt.Errorf("max_new_job_exes must be positive, got %d", cfg.MaxNewJobExes)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CORRAL_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Delay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CORRAL_MAX_NEW_JOB_EXES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxNewJobExes = n
		}
	}
}
