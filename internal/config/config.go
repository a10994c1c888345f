package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for gitchat. Everything lives under
// RepoPath: the message directory, key directories, archives and fork
// clones are all repo-relative so the whole tree can be mirrored to a
// git remote.
type Config struct {
	RepoPath string         `toml:"repo_path"`
	LogDir   string         `toml:"log_dir"`
	Storage  StorageConfig  `toml:"storage"`
	Identity IdentityConfig `toml:"identity"`
	Sync     SyncConfig     `toml:"sync"`
	Archive  ArchiveConfig  `toml:"archive"`
	Publish  PublishConfig  `toml:"publish"`
	Server   ServerConfig   `toml:"server"`
}

// StorageConfig selects the message storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "file" (authoritative) or "sqlite"

	// File-specific: message directory relative to repo_path.
	MessagesDir string `toml:"messages_dir,omitempty"`

	// SQLite-specific: database path relative to repo_path.
	DBPath string `toml:"db_path,omitempty"`
}

// IdentityConfig holds the key directory locations. KeysDir holds
// private keys and must never be synchronized to a remote.
type IdentityConfig struct {
	KeysDir       string `toml:"keys_dir"`
	PublicKeysDir string `toml:"public_keys_dir"`
}

// SyncConfig configures mirroring to the git origin and fork handling.
type SyncConfig struct {
	Enabled             bool   `toml:"enabled"`
	OriginURL           string `toml:"origin_url,omitempty"`
	ForksFile           string `toml:"forks_file"`
	ClonesDir           string `toml:"clones_dir"`
	PullIntervalSeconds int    `toml:"pull_interval_seconds"`
}

// ArchiveConfig configures relocation of old messages into bundles.
type ArchiveConfig struct {
	Dir           string `toml:"dir"`
	DaysThreshold int    `toml:"days_threshold"`
}

// PublishConfig selects where archive bundles are published.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublishConfig struct {
	Type string `toml:"type"` // "none", "git", or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Port int `toml:"port"`
	// MessageVerification gates signature checking on reads; when off,
	// every message is served as verified.
	MessageVerification bool `toml:"message_verification"`
}

// NewConfig creates a Config with the default layout rooted at repoPath.
func NewConfig(repoPath string) *Config {
	return &Config{
		RepoPath: repoPath,
		LogDir:   filepath.Join(repoPath, "logs"),
		Storage: StorageConfig{
			Type:        "file",
			MessagesDir: "messages",
			DBPath:      "messages.db",
		},
		Identity: IdentityConfig{
			KeysDir:       "keys",
			PublicKeysDir: filepath.Join("identity", "public_keys"),
		},
		Sync: SyncConfig{
			ForksFile:           "forks_list.txt",
			ClonesDir:           "cloned_repos",
			PullIntervalSeconds: 5,
		},
		Archive: ArchiveConfig{
			Dir:           "archives",
			DaysThreshold: 30,
		},
		Publish: PublishConfig{Type: "none"},
		Server:  ServerConfig{Port: 8000},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("initializing config at %s: %w", path, err)
	}
	return nil
}
