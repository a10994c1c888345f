package store

import (
	"fmt"
	"path/filepath"

	"gitchat/internal/chat"
	"gitchat/internal/config"
	"gitchat/internal/identity"
	"gitchat/internal/sign"
)

// NewBackendFromConfig creates a StorageBackend based on the storage
// config type. publisher and history apply only to the file backend
// and may be nil.
func NewBackendFromConfig(cfg *config.Config, ids *identity.Store, signer *sign.Engine, publisher chat.Publisher, history HistoryTimeResolver, logger chat.Logger, clock chat.Clock) (chat.StorageBackend, error) {
	switch cfg.Storage.Type {
	case "file":
		messagesDir := cfg.Storage.MessagesDir
		if messagesDir == "" {
			messagesDir = "messages"
		}
		return NewFileStore(cfg.RepoPath, messagesDir, ids, signer, publisher, history, logger, clock), nil
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			return nil, fmt.Errorf("db_path required for sqlite storage")
		}
		return NewSQLiteStore(filepath.Join(cfg.RepoPath, cfg.Storage.DBPath), clock, chat.UUIDGenerator{})
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
