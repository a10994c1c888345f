package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - GITCHAT_CONFIG_PATH: config file location (default: ~/.config/gitchat.toml)
//   - GITCHAT_REPO: chat repository location (default: ~/.local/share/gitchat)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	repoPath, err := getRepoPath()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"repo_path":   repoPath,
		"log_dir":     filepath.Join(repoPath, "logs"),
	}, nil
}

// getConfigPath returns the config file path, checking GITCHAT_CONFIG_PATH
// env var first, then falling back to the default ~/.config/gitchat.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("GITCHAT_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "gitchat.toml"), nil
}

// getRepoPath returns the chat repository path, checking GITCHAT_REPO env
// var first, then falling back to the XDG default ~/.local/share/gitchat.
func getRepoPath() (string, error) {
	if path := os.Getenv("GITCHAT_REPO"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "gitchat"), nil
}
