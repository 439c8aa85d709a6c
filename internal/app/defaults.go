package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - LVM_CONFIG_PATH: config file location (default: ~/.config/lvm.toml)
//   - LVM_HOME: base directory for lvm data (default: ~/.local/share/lvm)
//   - LVM_PROJECT: project file or directory used when a command names none
//     (default: the working directory)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	project := os.Getenv("LVM_PROJECT")
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("cannot determine working directory: %w", err)
		}
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"project":     project,
	}, nil
}

// getConfigPath returns the config file path, checking LVM_CONFIG_PATH env var first,
// then falling back to the default ~/.config/lvm.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("LVM_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "lvm.toml"), nil
}

// getBaseDir returns the base directory for lvm data, checking LVM_HOME env var first,
// then falling back to the XDG default ~/.local/share/lvm.
func getBaseDir() (string, error) {
	if path := os.Getenv("LVM_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "lvm"), nil
}
