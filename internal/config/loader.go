package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charliek/semrun/internal/domain"
	"github.com/joho/godotenv"
)

// LoadEnvFile reads a .env file and returns the variables as a map
func LoadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("env file not found: %w", err)
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	return env, nil
}

// MergeEnv merges multiple environment maps in order, with later maps taking precedence
func MergeEnv(envMaps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, env := range envMaps {
		for k, v := range env {
			result[k] = v
		}
	}
	return result
}

// LoadJobEnv loads and merges environment variables for a job
// Priority (lowest to highest):
// 1. Global env_file
// 2. Job env_file
// 3. Global env variables
// 4. Job env variables
func LoadJobEnv(globalEnvFile, jobEnvFile string, globalEnv, jobEnv map[string]string, configDir string) (map[string]string, error) {
	var globalFileEnv, jobFileEnv map[string]string
	var err error

	// Load global env file
	if globalEnvFile != "" {
		envPath := resolvePath(globalEnvFile, configDir)
		globalFileEnv, err = LoadEnvFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("loading global env file: %w", err)
		}
	}

	// Load job env file
	if jobEnvFile != "" {
		envPath := resolvePath(jobEnvFile, configDir)
		jobFileEnv, err = LoadEnvFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("loading job env file: %w", err)
		}
	}

	// Merge in order of priority
	return MergeEnv(globalFileEnv, jobFileEnv, globalEnv, jobEnv), nil
}

// resolvePath resolves a potentially relative path against a base directory
func resolvePath(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// FindConfigFile searches for a config file in each of dirs, in order.
// An empty dir means the current working directory.
func FindConfigFile(dirs ...string) (string, error) {
	candidates := []string{
		"semrun.yaml",
		"semrun.yml",
		".semrun.yaml",
		".semrun.yml",
	}
	if len(dirs) == 0 {
		dirs = []string{""}
	}

	for _, dir := range dirs {
		for _, name := range candidates {
			path := name
			if dir != "" {
				path = filepath.Join(dir, name)
			}
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w (tried: %v)", domain.ErrConfigNotFound, candidates)
}

// CheckFilePermissions checks if a file has secure permissions.
// On Unix-like systems, it verifies the file is not world-writable.
// Returns an error if the file has insecure permissions.
func CheckFilePermissions(path string) error {
	// Skip permission check on Windows
	if runtime.GOOS == "windows" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	mode := info.Mode()

	// Check if file is world-writable (others have write permission)
	// Permission bits: rwxrwxrwx (owner, group, others)
	// World-writable = others have write (0002)
	if mode.Perm()&0002 != 0 {
		return fmt.Errorf("config file %s has insecure permissions: world-writable files can be modified by any user. Please run: chmod o-w %s", path, path)
	}

	// Also warn if group-writable, but don't fail
	// (just check, could add a warning log here if needed)

	return nil
}
