package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		RepoPath: "/srv/gitchat",
		LogDir:   "/srv/gitchat/logs",
		Storage:  StorageConfig{Type: "file", MessagesDir: "messages"},
		Identity: IdentityConfig{
			KeysDir:       "keys",
			PublicKeysDir: "identity/public_keys",
		},
		Sync: SyncConfig{
			Enabled:             true,
			OriginURL:           "https://example.com/chat/history.git",
			ForksFile:           "forks_list.txt",
			ClonesDir:           "cloned_repos",
			PullIntervalSeconds: 5,
		},
		Archive: ArchiveConfig{Dir: "archives", DaysThreshold: 30},
		Publish: PublishConfig{Type: "s3", S3Bucket: "chat-archives", S3Region: "eu-west-1"},
		Server:  ServerConfig{Port: 8000, MessageVerification: true},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.RepoPath != original.RepoPath {
		t.Errorf("RepoPath = %q, want %q", got.RepoPath, original.RepoPath)
	}
	if got.Storage.Type != "file" {
		t.Errorf("Storage.Type = %q, want %q", got.Storage.Type, "file")
	}
	if got.Sync.OriginURL != original.Sync.OriginURL {
		t.Errorf("Sync.OriginURL = %q, want %q", got.Sync.OriginURL, original.Sync.OriginURL)
	}
	if got.Sync.PullIntervalSeconds != 5 {
		t.Errorf("Sync.PullIntervalSeconds = %d, want 5", got.Sync.PullIntervalSeconds)
	}
	if got.Archive.DaysThreshold != 30 {
		t.Errorf("Archive.DaysThreshold = %d, want 30", got.Archive.DaysThreshold)
	}
	if got.Publish.Type != "s3" || got.Publish.S3Bucket != "chat-archives" {
		t.Errorf("Publish = %+v, want s3/chat-archives", got.Publish)
	}
	if !got.Server.MessageVerification {
		t.Error("Server.MessageVerification = false, want true")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/data/chat")

	if cfg.Storage.Type != "file" {
		t.Errorf("Storage.Type = %q, want %q", cfg.Storage.Type, "file")
	}
	if cfg.Storage.MessagesDir != "messages" {
		t.Errorf("Storage.MessagesDir = %q, want %q", cfg.Storage.MessagesDir, "messages")
	}
	if cfg.Identity.PublicKeysDir != filepath.Join("identity", "public_keys") {
		t.Errorf("Identity.PublicKeysDir = %q", cfg.Identity.PublicKeysDir)
	}
	if cfg.Archive.DaysThreshold != 30 {
		t.Errorf("Archive.DaysThreshold = %d, want 30", cfg.Archive.DaysThreshold)
	}
	if cfg.Sync.PullIntervalSeconds != 5 {
		t.Errorf("Sync.PullIntervalSeconds = %d, want 5", cfg.Sync.PullIntervalSeconds)
	}
	if cfg.Publish.Type != "none" {
		t.Errorf("Publish.Type = %q, want %q", cfg.Publish.Type, "none")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "conf", "gitchat.toml")

		if err := Init(path, NewConfig("/data/chat")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.RepoPath != "/data/chat" {
			t.Errorf("RepoPath = %q, want %q", got.RepoPath, "/data/chat")
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gitchat.toml")
		if err := os.WriteFile(path, []byte("repo_path = '/existing'\n"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := Init(path, NewConfig("/data/chat")); err == nil {
			t.Error("Init() error = nil, want error for existing file")
		}
	})
}
