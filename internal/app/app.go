// Package app is the application layer between the CLI and the chat
// packages. It constructs all dependencies from config and manages
// their lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitchat/internal/archive"
	"gitchat/internal/chat"
	"gitchat/internal/config"
	"gitchat/internal/forks"
	"gitchat/internal/gitremote"
	"gitchat/internal/identity"
	"gitchat/internal/publish"
	"gitchat/internal/server"
	"gitchat/internal/sign"
	"gitchat/internal/store"
)

// ChatApp wires storage, identity, sync, archiving and the HTTP server
// together from a Config. The caller must call Close when done.
type ChatApp struct {
	cfg      *config.Config
	ids      *identity.Store
	backend  chat.StorageBackend
	remote   *gitremote.Remote
	archiver *archive.Archiver
	server   *server.Server
	clock    chat.Clock
	logger   chat.Logger
	logFile  *os.File
}

// NewChatApp creates a fully wired ChatApp from the given config.
// operation identifies the CLI command being run (e.g. "Serve",
// "SyncForks") and tags every log line of this run.
func NewChatApp(cfg *config.Config, operation string) (*ChatApp, error) {
	runID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	clock := chat.RealClock{}

	ids, err := identity.NewStore(
		filepath.Join(cfg.RepoPath, cfg.Identity.KeysDir),
		filepath.Join(cfg.RepoPath, cfg.Identity.PublicKeysDir),
	)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating identity store: %w", err)
	}

	messagesDir := cfg.Storage.MessagesDir
	if messagesDir == "" {
		messagesDir = "messages"
	}
	var remote *gitremote.Remote
	if cfg.Sync.Enabled {
		remote = gitremote.New(
			cfg.RepoPath,
			cfg.Sync.OriginURL,
			filepath.Join(cfg.RepoPath, cfg.Sync.ClonesDir),
			messagesDir,
			time.Duration(cfg.Sync.PullIntervalSeconds)*time.Second,
			logger,
			clock,
		)
	}

	// The remote doubles as the git publisher when publishing is set
	// to "git".
	var gitPublisher chat.Publisher
	if remote != nil {
		gitPublisher = remote
	}
	publisher, err := publish.NewPublisherFromConfig(context.Background(), cfg.Publish, cfg.RepoPath, gitPublisher, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	var history store.HistoryTimeResolver
	if remote != nil {
		history = remote
	}
	backend, err := store.NewBackendFromConfig(cfg, ids, sign.NewEngine(ids), publisher, history, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	source, ok := backend.(archive.Source)
	if !ok {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("storage backend %T cannot be archived", backend)
	}
	archiver, err := archive.NewArchiver(source, filepath.Join(cfg.RepoPath, cfg.Archive.Dir), cfg.Archive.DaysThreshold, publisher, logger, clock)
	if err != nil {
		backend.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating archiver: %w", err)
	}

	var puller server.Puller
	if remote != nil {
		puller = remote
	}
	srv := server.New(backend, ids, archiver, puller, cfg.Server.MessageVerification, logger)

	return &ChatApp{
		cfg:      cfg,
		ids:      ids,
		backend:  backend,
		remote:   remote,
		archiver: archiver,
		server:   srv,
		clock:    clock,
		logger:   logger,
		logFile:  logFile,
	}, nil
}

// Serve runs one archive pass over old messages and then serves HTTP
// until the listener fails.
func (a *ChatApp) Serve() error {
	if name, err := a.ArchiveOld(); err != nil {
		a.logger.Warn("startup archive pass failed", "error", err)
	} else if name != "" {
		a.logger.Info("archived old messages on startup", "bundle", name)
	}
	return a.server.ListenAndServe(a.cfg.Server.Port)
}

// ArchiveOld bundles messages older than the configured threshold.
// Returns the bundle name, or "" when nothing was old enough.
func (a *ChatApp) ArchiveOld() (string, error) {
	return a.archiver.Archive(a.clock.Now())
}

// SaveMessage stores a new message and returns its storage ID.
func (a *ChatApp) SaveMessage(author, content, parent string) (string, error) {
	return a.backend.Save(chat.SaveRequest{
		Author:  author,
		Content: content,
		Parent:  parent,
		Sign:    true,
	})
}

// ListMessages returns messages newest first.
func (a *ChatApp) ListMessages(limit int) ([]*chat.Message, error) {
	return a.backend.List(limit)
}

// SyncForks updates all fork clones from the fork list file and merges
// their messages into the local repository. Returns the number of
// messages merged.
func (a *ChatApp) SyncForks() (int, error) {
	if a.remote == nil {
		return 0, fmt.Errorf("sync is not enabled in config")
	}
	urls, err := forks.ReadList(filepath.Join(a.cfg.RepoPath, a.cfg.Sync.ForksFile))
	if err != nil {
		return 0, fmt.Errorf("reading fork list: %w", err)
	}
	if err := a.remote.SyncForks(urls); err != nil {
		a.logger.Warn("some forks failed to sync", "error", err)
	}
	return a.remote.MergeForkMessages()
}

// FindForks discovers the fork tree of the origin repository and
// rewrites the fork list file. Returns the discovered clone URLs.
func (a *ChatApp) FindForks(ctx context.Context, token string) ([]string, error) {
	if a.cfg.Sync.OriginURL == "" {
		return nil, fmt.Errorf("sync.origin_url is not configured")
	}
	client := forks.NewClient(forks.DefaultAPIBase, token, a.logger)
	urls, err := client.Discover(ctx, a.cfg.Sync.OriginURL)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(a.cfg.RepoPath, a.cfg.Sync.ForksFile)
	if err := forks.WriteList(path, urls); err != nil {
		return nil, fmt.Errorf("writing fork list: %w", err)
	}
	return urls, nil
}

// Keygen mints a key pair for the given username. Fails when the
// username is malformed or already has keys.
func (a *ChatApp) Keygen(username string) error {
	if !chat.ValidUsernameFormat(username) {
		return chat.ErrInvalidUsername
	}
	if a.ids.HasKeyPair(username) {
		return chat.ErrUsernameTaken
	}
	return a.ids.GenerateKeyPair(username)
}

// Close releases storage resources and the log file.
func (a *ChatApp) Close() error {
	var firstErr error
	if err := a.backend.Close(); err != nil {
		firstErr = fmt.Errorf("closing storage: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
