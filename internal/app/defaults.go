package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TAGR_CONFIG_PATH: config file location (default: ~/.config/tagr.toml)
//   - TAGR_BASE_DIR: repository base directory (default: current working directory)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, ".tagr", "log"),
	}, nil
}

// getConfigPath returns the config file path, checking TAGR_CONFIG_PATH env
// var first, then falling back to the default ~/.config/tagr.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("TAGR_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tagr.toml"), nil
}

// getBaseDir returns the repository base directory, checking TAGR_BASE_DIR
// env var first, then falling back to the current working directory.
func getBaseDir() (string, error) {
	if path := os.Getenv("TAGR_BASE_DIR"); path != "" {
		return path, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot determine working directory: %w", err)
	}
	return wd, nil
}
