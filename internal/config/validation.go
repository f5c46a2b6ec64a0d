package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"yqhp/rowfarm/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap returns the typed cause, if any.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Unwrap exposes every entry to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, &ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateJob(&cfg.Job)
	v.validateRun(&cfg.Run)
	v.validateCoordinator(&cfg.Coordinator, cfg.Run.Transport)
	v.validateRedis(&cfg.Redis, cfg.Run.Transport)
	v.validateLogging(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateJob(cfg *JobConfig) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		v.errors = append(v.errors, &ValidationError{
			Field:   "job.height/job.width",
			Message: "height and width must both be positive",
			Cause:   &types.InvalidDimensionsError{Height: cfg.Height, Width: cfg.Width},
		})
	}
	if cfg.Kernel == "" {
		v.addError("job.kernel", "kernel is required")
	}
	if cfg.Kernel == "script" && cfg.ScriptPath == "" {
		v.addError("job.script_path", "script kernel needs a script path")
	}
	if cfg.MaxIter < 0 {
		v.addError("job.max_iter", "max iterations must be non-negative")
	}
	if cfg.Plane.MinX >= cfg.Plane.MaxX {
		v.addError("job.plane", "min_x must be less than max_x")
	}
	if cfg.Plane.MinY >= cfg.Plane.MaxY {
		v.addError("job.plane", "min_y must be less than max_y")
	}
}

func (v *Validator) validateRun(cfg *RunConfig) {
	if cfg.Workers < 1 {
		v.addError("run.workers", "at least one worker is required")
	}
	switch cfg.Transport {
	case TransportLocal, TransportWS, TransportRedis:
	default:
		v.addError("run.transport", fmt.Sprintf("invalid transport '%s', must be one of: local, ws, redis", cfg.Transport))
	}
}

func (v *Validator) validateCoordinator(cfg *CoordinatorConfig, transport string) {
	if transport != TransportWS {
		return
	}
	if cfg.Listen == "" {
		v.addError("coordinator.listen", "listen address is required")
	} else if !isValidAddress(cfg.Listen) {
		v.addError("coordinator.listen", "invalid address format, expected host:port or :port")
	}
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") {
			v.addError("coordinator.url", "url must use ws, wss, http or https")
		}
	}
	if cfg.RegisterTimeout < 0 {
		v.addError("coordinator.register_timeout", "register timeout must be non-negative")
	}
	if cfg.DialAttempts < 0 {
		v.addError("coordinator.dial_attempts", "dial attempts must be non-negative")
	}
}

func (v *Validator) validateRedis(cfg *RedisConfig, transport string) {
	if transport != TransportRedis {
		return
	}
	if cfg.Addr == "" || !isValidAddress(cfg.Addr) {
		v.addError("redis.addr", "invalid address format, expected host:port")
	}
	if cfg.DB < 0 {
		v.addError("redis.db", "db must be non-negative")
	}
	if cfg.KeyPrefix == "" {
		v.addError("redis.key_prefix", "key prefix is required")
	}
}

func (v *Validator) validateLogging(cfg *LoggingConfig) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true, "both": true}
	if !validOutputs[cfg.Output] {
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s'", cfg.Output))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath == "" {
		v.addError("logging.file_path", "file output needs a file path")
	}
}

// isValidAddress checks host:port or :port.
func isValidAddress(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// Validate validates cfg with a fresh Validator.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
