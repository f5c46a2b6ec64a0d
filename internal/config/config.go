package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/rowfarm/pkg/types"
)

// Transport names accepted by run.transport.
const (
	TransportLocal = "local"
	TransportWS    = "ws"
	TransportRedis = "redis"
)

// Config is the complete rowfarm configuration.
type Config struct {
	Job         JobConfig         `yaml:"job"`
	Run         RunConfig         `yaml:"run"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Redis       RedisConfig       `yaml:"redis"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// JobConfig describes the grid and the kernel evaluated over it.
type JobConfig struct {
	Kernel     string      `yaml:"kernel" env:"RF_JOB_KERNEL"`
	Height     int         `yaml:"height" env:"RF_JOB_HEIGHT"`
	Width      int         `yaml:"width" env:"RF_JOB_WIDTH"`
	MaxIter    int         `yaml:"max_iter" env:"RF_JOB_MAX_ITER"`
	ScriptPath string      `yaml:"script_path" env:"RF_JOB_SCRIPT_PATH"`
	Plane      types.Plane `yaml:"plane"`
}

// RunConfig holds the worker pool settings.
type RunConfig struct {
	Workers   int    `yaml:"workers" env:"RF_RUN_WORKERS"`
	Transport string `yaml:"transport" env:"RF_RUN_TRANSPORT"`
}

// CoordinatorConfig holds the WebSocket endpoint settings for both sides.
type CoordinatorConfig struct {
	Listen          string        `yaml:"listen" env:"RF_COORDINATOR_LISTEN"`
	URL             string        `yaml:"url" env:"RF_COORDINATOR_URL"`
	RegisterTimeout time.Duration `yaml:"register_timeout" env:"RF_COORDINATOR_REGISTER_TIMEOUT"`
	DialAttempts    int           `yaml:"dial_attempts" env:"RF_COORDINATOR_DIAL_ATTEMPTS"`
	DialInterval    time.Duration `yaml:"dial_interval" env:"RF_COORDINATOR_DIAL_INTERVAL"`
}

// RedisConfig holds the Redis transport settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"RF_REDIS_ADDR"`
	Password  string `yaml:"password" env:"RF_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"RF_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"RF_REDIS_KEY_PREFIX"`
	RunID     string `yaml:"run_id" env:"RF_REDIS_RUN_ID"`
}

// OutputConfig selects the encoder and destination of the final matrix.
type OutputConfig struct {
	Path string `yaml:"path" env:"RF_OUTPUT_PATH"`
	// Format names the encoder. Empty picks it from the extension of Path.
	Format string `yaml:"format" env:"RF_OUTPUT_FORMAT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"RF_LOG_LEVEL"`
	Format     string `yaml:"format" env:"RF_LOG_FORMAT"`
	Output     string `yaml:"output" env:"RF_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"RF_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"RF_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"RF_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"RF_LOG_MAX_AGE"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Job: JobConfig{
			Kernel:  "mandelbrot",
			Height:  1000,
			Width:   1000,
			MaxIter: 511,
			Plane:   types.DefaultPlane(),
		},
		Run: RunConfig{
			Workers:   4,
			Transport: TransportLocal,
		},
		Coordinator: CoordinatorConfig{
			Listen:          ":8090",
			URL:             "ws://localhost:8090",
			RegisterTimeout: 60 * time.Second,
			DialAttempts:    10,
			DialInterval:    time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "rowfarm",
		},
		Output: OutputConfig{
			Path: "mandelbrot.png",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// JobSpec builds the job description handed to the coordinator and the workers.
// The script file, when configured, is read here.
func (c *Config) JobSpec(runID string) (*types.JobSpec, error) {
	spec := &types.JobSpec{
		RunID:   runID,
		Kernel:  c.Job.Kernel,
		Height:  c.Job.Height,
		Width:   c.Job.Width,
		Plane:   c.Job.Plane,
		MaxIter: c.Job.MaxIter,
	}
	if c.Job.ScriptPath != "" {
		src, err := os.ReadFile(c.Job.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("read kernel script: %w", err)
		}
		spec.Script = string(src)
	}
	return spec, nil
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "RF_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix an env tag must carry to be honoured.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets dot-path overrides such as "job.height" -> "480".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	return cfg, nil
}

// loadFromFile reads the configured path. A path given explicitly must exist.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to tagged fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || !strings.HasPrefix(envTag, l.envPrefix) {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("env %s -> %s: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// setConfigValue sets a configuration value by its yaml dot path, e.g. "job.plane.min_x".
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a section, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
