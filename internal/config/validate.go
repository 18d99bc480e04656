package config

import (
	"fmt"
	"math"
	"net"
	"path"
	"strings"

	"github.com/charliek/semrun/internal/domain"
)

// maxSlots is SEMVMX, the largest value a System V semaphore can hold
const maxSlots = 32767

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors
func Validate(config *Config) error {
	var errs []string

	if config.Slots < 1 || config.Slots > maxSlots {
		errs = append(errs, fmt.Sprintf("slots: must be between 1 and %d, got %d", maxSlots, config.Slots))
	}
	if config.Retries < 0 {
		errs = append(errs, "retries: must be non-negative")
	}
	if config.Timeout < 0 {
		errs = append(errs, "timeout: must be non-negative")
	}
	if config.KillGrace < 0 {
		errs = append(errs, "kill_grace: must be non-negative")
	}

	for _, p := range config.Include {
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Sprintf("include: invalid pattern %q", p))
		}
	}
	for _, p := range config.Exclude {
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Sprintf("exclude: invalid pattern %q", p))
		}
	}

	for _, s := range config.ForwardSignals {
		if _, err := domain.ParseSignal(s); err != nil {
			errs = append(errs, fmt.Sprintf("forward_signals: %v", err))
		}
	}

	// Validate gate config
	switch config.Gate.Mode {
	case GateModeAuto, GateModeSysV, GateModeLocal:
	default:
		errs = append(errs, fmt.Sprintf("gate.mode: must be one of auto, sysv, local, got %q", config.Gate.Mode))
	}
	if config.Gate.Key < 0 || config.Gate.Key > math.MaxUint32 {
		errs = append(errs, fmt.Sprintf("gate.key: must be between 0 and %#x, got %d", uint32(math.MaxUint32), config.Gate.Key))
	}
	if config.Gate.ProjectID < 1 || config.Gate.ProjectID > 255 {
		errs = append(errs, fmt.Sprintf("gate.project_id: must be between 1 and 255, got %d", config.Gate.ProjectID))
	}
	if config.Gate.Perm < 0 || config.Gate.Perm > 0777 {
		errs = append(errs, fmt.Sprintf("gate.perm: must be a permission mode between 0 and 0777, got %o", config.Gate.Perm))
	}

	// Validate API config
	if !IsLoopbackHost(config.API.Host) {
		errs = append(errs, fmt.Sprintf("api.host: must be a loopback address, got %q", config.API.Host))
	}
	if config.API.Port < 0 || config.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port: must be between 0 and 65535, got %d", config.API.Port))
	}

	for name, job := range config.Jobs {
		if err := ValidateJobName(name); err != nil {
			errs = append(errs, fmt.Sprintf("jobs.%s: %v", name, err))
		}
		if job.Retries != nil && *job.Retries < 0 {
			errs = append(errs, fmt.Sprintf("jobs.%s.retries: must be non-negative", name))
		}
		if job.Timeout != nil && *job.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("jobs.%s.timeout: must be non-negative", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// IsLoopbackHost reports whether host names the local machine only. The API
// has no authentication, so it must never listen beyond loopback.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ValidateJobName checks if a job name is a plain directory entry name
func ValidateJobName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "job name cannot be empty"}
	}
	if strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return &ValidationError{Field: "name", Message: "job name must be a file name inside the jobs directory"}
	}
	return nil
}
