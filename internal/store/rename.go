package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"gitchat/internal/chat"
)

// renameRequest is the expected content of a username_change message.
type renameRequest struct {
	NewUsername string `json:"new_username"`
}

// handleUsernameChange runs the rename flow triggered by a
// username_change message. The triggering message is never rolled
// back: any failure is recorded as a new system message of type error
// parented to the original.
//
// A rename is an identity reset, not a rename-in-place: the new
// username gets a fresh key pair and the old keys are retired, so
// messages signed under the old identity stay verifiable against the
// old public key for as long as it is retained by readers.
func (s *FileStore) handleUsernameChange(parentFile, oldUsername, content string) {
	var req renameRequest
	if err := json.Unmarshal([]byte(content), &req); err != nil {
		s.rejectRename(parentFile, oldUsername, req.NewUsername, fmt.Sprintf("malformed request: %v", err))
		return
	}

	if !chat.ValidUsernameFormat(req.NewUsername) {
		s.rejectRename(parentFile, oldUsername, req.NewUsername, "invalid format")
		return
	}

	// Serialize the check-then-generate sequence per old username so
	// concurrent rename requests cannot interleave between the
	// existence check and the key generation.
	lock := s.renameLock(oldUsername)
	lock.Lock()
	defer lock.Unlock()

	if s.ids.HasKeyPair(req.NewUsername) {
		s.rejectRename(parentFile, oldUsername, req.NewUsername, "already exists")
		return
	}

	if err := s.ids.GenerateKeyPair(req.NewUsername); err != nil {
		s.rejectRename(parentFile, oldUsername, req.NewUsername, fmt.Sprintf("key generation failed: %v", err))
		return
	}
	if err := s.ids.Retire(oldUsername); err != nil {
		s.logger.Warn("retiring old identity failed", "username", oldUsername, "error", err)
	}

	s.logger.Info("username changed", "old", oldUsername, "new", req.NewUsername)

	// Share the new public key with the remote, best-effort.
	s.publishAsync(filepath.ToSlash(filepath.Join("identity", "public_keys", req.NewUsername+".pub")), req.NewUsername)
}

// rejectRename records a rename failure as a system error message.
func (s *FileStore) rejectRename(parentFile, oldUsername, newUsername, reason string) {
	s.logger.Warn("username change rejected", "old", oldUsername, "new", newUsername, "reason", reason)

	_, err := s.Save(chat.SaveRequest{
		Author:  "system",
		Content: fmt.Sprintf("username change from %q to %q rejected: %s", oldUsername, newUsername, reason),
		Parent:  parentFile,
		Type:    chat.TypeError,
	})
	if err != nil {
		s.logger.Error("recording rename failure", "error", err)
	}
}

func (s *FileStore) renameLock(username string) *sync.Mutex {
	s.renameMu.Lock()
	defer s.renameMu.Unlock()
	lock, ok := s.renameLocks[username]
	if !ok {
		lock = &sync.Mutex{}
		s.renameLocks[username] = lock
	}
	return lock
}
