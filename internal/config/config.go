package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"gopkg.in/yaml.v3"
)

// Gate modes
const (
	GateModeAuto  = "auto"
	GateModeSysV  = "sysv"
	GateModeLocal = "local"
)

// DefaultForwardSignals are relayed to running jobs when no list is configured
var DefaultForwardSignals = []string{"SIGHUP", "SIGUSR1", "SIGUSR2"}

// Config represents the top-level semrun configuration
type Config struct {
	JobsDir        string               `yaml:"jobs_dir"`
	Slots          int                  `yaml:"slots"`
	Timeout        Duration             `yaml:"timeout"`
	KillGrace      Duration             `yaml:"kill_grace"`
	Retries        int                  `yaml:"retries"`
	RetryDelay     Duration             `yaml:"retry_delay"`
	FailFast       bool                 `yaml:"fail_fast"`
	Include        []string             `yaml:"include"`
	Exclude        []string             `yaml:"exclude"`
	EnvFile        string               `yaml:"env_file"`
	Env            map[string]string    `yaml:"env"`
	LogDir         string               `yaml:"log_dir"`
	ForwardSignals []string             `yaml:"forward_signals"`
	Gate           GateConfig           `yaml:"gate"`
	API            APIConfig            `yaml:"api"`
	Jobs           map[string]JobConfig `yaml:"-"`

	// Dir is the directory of the loaded config file. Relative paths in the
	// file resolve against it. Empty for parsed or default configs.
	Dir string `yaml:"-"`
}

// GateConfig defines how concurrent jobs are limited
type GateConfig struct {
	Mode         string   `yaml:"mode"`
	Key          int      `yaml:"key"`
	KeyFile      string   `yaml:"key_file"`
	ProjectID    int      `yaml:"project_id"`
	Perm         int      `yaml:"perm"`
	RemoveOnExit bool     `yaml:"remove_on_exit"`
	InitTimeout  Duration `yaml:"init_timeout"`
}

// APIConfig defines the HTTP status API configuration
type APIConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // nil = enabled
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"` // 0 = pick a free port
}

// IsEnabled reports whether the API should be started
func (a APIConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// JobConfig overrides run settings for a single job entry. It can be written
// either as a plain argument string or in expanded form.
type JobConfig struct {
	Args    []string          `yaml:"args"`
	Timeout *Duration         `yaml:"timeout"`
	Retries *int              `yaml:"retries"`
	EnvFile string            `yaml:"env_file"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
	Disable bool              `yaml:"disable"`
}

// Duration is a time.Duration that unmarshals from Go duration strings ("90s", "5m")
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", value.Line)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// rawConfig is used for initial YAML parsing to handle the flexible job format.
// Config.Jobs is excluded from YAML so the raw jobs map can take the key.
type rawConfig struct {
	Config `yaml:",inline"`
	Jobs   map[string]interface{} `yaml:"jobs"`
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	cfg := &Config{Jobs: make(map[string]JobConfig)}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	// First check if file exists
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	// Check file permissions for security
	if err := CheckFilePermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if abs, err := filepath.Abs(path); err == nil {
		cfg.Dir = filepath.Dir(abs)
	} else {
		cfg.Dir = filepath.Dir(path)
	}

	return cfg, nil
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	config := raw.Config
	config.Jobs = make(map[string]JobConfig)

	// Parse jobs (can be string or expanded form)
	for name, value := range raw.Jobs {
		job, err := parseJobConfig(value)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		config.Jobs[name] = job
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.JobsDir == "" {
		config.JobsDir = constants.DefaultJobsDir
	}
	if config.Slots == 0 {
		config.Slots = constants.DefaultSlots
	}
	if config.KillGrace == 0 {
		config.KillGrace = Duration(constants.DefaultKillGrace)
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = Duration(constants.DefaultRetryDelay)
	}
	if config.ForwardSignals == nil {
		config.ForwardSignals = append([]string(nil), DefaultForwardSignals...)
	}
	if config.Gate.Mode == "" {
		config.Gate.Mode = GateModeAuto
	}
	if config.Gate.ProjectID == 0 {
		config.Gate.ProjectID = constants.DefaultProjectID
	}
	if config.Gate.Perm == 0 {
		config.Gate.Perm = constants.DefaultGatePerm
	}
	if config.Gate.InitTimeout == 0 {
		config.Gate.InitTimeout = Duration(constants.DefaultGateInitTimeout)
	}
	if config.API.Host == "" {
		config.API.Host = constants.DefaultAPIHost
	}
}

// parseJobConfig handles both simple and expanded job definitions
func parseJobConfig(value interface{}) (JobConfig, error) {
	switch v := value.(type) {
	case nil:
		return JobConfig{}, nil
	case string:
		// Simple form: backup.sh: --full --verbose
		return JobConfig{Args: strings.Fields(v)}, nil
	case map[string]interface{}:
		// Expanded form: re-marshal and unmarshal to struct
		data, err := yaml.Marshal(v)
		if err != nil {
			return JobConfig{}, fmt.Errorf("marshaling job config: %w", err)
		}
		var job JobConfig
		if err := yaml.Unmarshal(data, &job); err != nil {
			return JobConfig{}, fmt.Errorf("unmarshaling job config: %w", err)
		}
		return job, nil
	default:
		return JobConfig{}, fmt.Errorf("invalid job configuration type: %T", value)
	}
}

// ResolvePath resolves a path from the config file against the config's directory
func (c *Config) ResolvePath(path string) string {
	return resolvePath(path, c.Dir)
}

// ResolvedJobsDir returns the absolute jobs directory
func (c *Config) ResolvedJobsDir() string {
	dir := c.ResolvePath(c.JobsDir)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// ResolvedLogDir returns the directory for per-job log files, or "" when disabled
func (c *Config) ResolvedLogDir() string {
	if c.LogDir == "" {
		return ""
	}
	return c.ResolvePath(c.LogDir)
}

// GateKeyFile returns the file whose identity derives the System V key
func (c *Config) GateKeyFile() string {
	if c.Gate.KeyFile != "" {
		return c.ResolvePath(c.Gate.KeyFile)
	}
	return c.ResolvedJobsDir()
}

// ToDomainJob builds the run definition for a scanned job entry, merging
// global defaults, the per-job override and the environment files.
func (c *Config) ToDomainJob(name, path string) (domain.Job, error) {
	override := c.Jobs[name]

	env, err := LoadJobEnv(c.EnvFile, override.EnvFile, c.Env, override.Env, c.Dir)
	if err != nil {
		return domain.Job{}, fmt.Errorf("job %q: %w", name, err)
	}

	job := domain.Job{
		Name:      name,
		Path:      path,
		Args:      override.Args,
		Env:       env,
		Dir:       c.ResolvedJobsDir(),
		Timeout:   c.Timeout.Std(),
		KillGrace: c.KillGrace.Std(),
		Retries:   c.Retries,
	}
	if override.Dir != "" {
		job.Dir = c.ResolvePath(override.Dir)
	}
	if override.Timeout != nil {
		job.Timeout = override.Timeout.Std()
	}
	if override.Retries != nil {
		job.Retries = *override.Retries
	}

	return job, nil
}

// Disabled reports whether the config turns a job off
func (c *Config) Disabled(name string) bool {
	return c.Jobs[name].Disable
}
