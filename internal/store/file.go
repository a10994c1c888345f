// Package store provides the message storage backends: the
// authoritative file-backed store mirrored through git, and a simpler
// SQLite variant. The backend is selected from config by the factory.
package store

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gitchat/internal/chat"
	"gitchat/internal/codec"
	"gitchat/internal/identity"
	"gitchat/internal/sign"
)

// filenameTimeLayout is the timestamp prefix of message filenames:
// <YYYYMMDD_HHMMSS>_<author>.txt
const filenameTimeLayout = "20060102_150405"

// HistoryTimeResolver supplies a fallback creation time from
// version-control history for files whose embedded and filename
// timestamps are both missing.
type HistoryTimeResolver interface {
	FileTime(relPath string) (time.Time, bool)
}

// FileStore is the authoritative message directory API. Message files
// are immutable once written; corrections happen as new records of
// type error referencing the original.
type FileStore struct {
	repoPath    string
	messagesDir string // absolute
	relDir      string // repo-relative, as configured
	ids         *identity.Store
	signer      *sign.Engine
	publisher   chat.Publisher      // optional, best-effort
	history     HistoryTimeResolver // optional
	logger      chat.Logger
	clock       chat.Clock

	// writeMu serializes the check-then-create sequence of
	// writeNewMessage so same-second collisions always land on
	// distinct filenames.
	writeMu sync.Mutex

	// renameMu guards renameLocks; each entry serializes the
	// check-then-generate sequence of a rename for one old username.
	renameMu    sync.Mutex
	renameLocks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at repoPath with messages in
// messagesDir (repo-relative). publisher and history may be nil.
func NewFileStore(repoPath, messagesDir string, ids *identity.Store, signer *sign.Engine, publisher chat.Publisher, history HistoryTimeResolver, logger chat.Logger, clock chat.Clock) *FileStore {
	return &FileStore{
		repoPath:    repoPath,
		messagesDir: filepath.Join(repoPath, messagesDir),
		relDir:      filepath.ToSlash(messagesDir),
		ids:         ids,
		signer:      signer,
		publisher:   publisher,
		history:     history,
		logger:      logger,
		clock:       clock,
		renameLocks: map[string]*sync.Mutex{},
	}
}

// Init creates the message directory.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.messagesDir, 0755); err != nil {
		return fmt.Errorf("creating messages directory: %w", err)
	}
	return nil
}

// Close implements chat.StorageBackend; the file store holds no
// resources.
func (s *FileStore) Close() error { return nil }

// Save validates, optionally signs, and atomically writes a new
// message file, returning its filename. A sync/publish failure never
// fails the save; only filesystem write errors do.
func (s *FileStore) Save(req chat.SaveRequest) (string, error) {
	content := strings.TrimRight(req.Content, " \t\r\n")
	if strings.TrimSpace(content) == "" {
		return "", chat.ErrEmptyContent
	}

	author := req.Author
	if author == "" {
		author = "anonymous"
	}
	if !chat.ValidAuthor(author) {
		return "", fmt.Errorf("%w: %q", chat.ErrInvalidUsername, author)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	ts = ts.UTC()

	msgType := req.Type
	if msgType == "" {
		msgType = chat.TypeMessage
	}

	var signature string
	if req.Sign && s.ids.HasKeyPair(author) {
		sig, err := s.signer.Sign(content, author)
		if err != nil {
			// Missing or unreadable key downgrades to an unsigned
			// message rather than aborting the save.
			s.logger.Warn("signing failed, storing unsigned", "author", author, "error", err)
		} else {
			signature = sig
		}
	}

	encoded := codec.Encode(codec.Record{
		Content:   content,
		Author:    author,
		Timestamp: ts,
		Parent:    req.Parent,
		Signature: signature,
		Type:      typeField(msgType),
	})

	filename, err := s.writeNewMessage(ts, author, encoded)
	if err != nil {
		return "", err
	}
	s.logger.Info("message saved", "file", filename, "author", author, "signed", signature != "")

	if msgType == chat.TypeUsernameChange {
		s.handleUsernameChange(filename, author, content)
	}

	s.publishAsync(path.Join(s.relDir, filename), author)

	return filename, nil
}

// writeNewMessage writes encoded content to a new file named by the
// timestamp+author convention. A same-second collision for the same
// author is disambiguated with a monotonic suffix counter; the write
// itself is atomic (temp file + rename) and never overwrites an
// existing record.
func (s *FileStore) writeNewMessage(ts time.Time, author, encoded string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	base := ts.Format(filenameTimeLayout) + "_" + author
	filename := base + ".txt"
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(s.messagesDir, filename)); os.IsNotExist(err) {
			break
		}
		filename = fmt.Sprintf("%s_%d.txt", base, n)
	}

	if err := atomicWriteFile(filepath.Join(s.messagesDir, filename), []byte(encoded)); err != nil {
		return "", fmt.Errorf("writing message file: %w", err)
	}
	return filename, nil
}

// Read decodes and verifies one message. Missing files, directory
// markers and empty records return (nil, nil), never an error.
func (s *FileStore) Read(id string) (*chat.Message, error) {
	name := filepath.Base(id)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".txt") {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(s.messagesDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading message %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	meta, content := codec.Decode(string(data))

	author := meta[codec.FieldAuthor]
	if author == "" {
		author = "anonymous"
	}

	msg := &chat.Message{
		ID:        name,
		Author:    author,
		Content:   content,
		CreatedAt: s.resolveTimestamp(name, meta),
		Parent:    meta[codec.FieldParent],
		Signature: meta[codec.FieldSignature],
		Type:      messageType(meta[codec.FieldType]),
		Verified:  s.verify(content, meta[codec.FieldSignature], author),
	}
	return msg, nil
}

// resolveTimestamp applies the creation-time priority chain: explicit
// Date field, then filename prefix, then version-control history, then
// the zero-time sentinel.
func (s *FileStore) resolveTimestamp(name string, meta map[string]string) time.Time {
	if raw := meta[codec.FieldDate]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	if len(name) >= len(filenameTimeLayout) {
		if ts, err := time.Parse(filenameTimeLayout, name[:len(filenameTimeLayout)]); err == nil {
			return ts.UTC()
		}
	}
	if s.history != nil {
		rel := path.Join(s.relDir, name)
		if ts, ok := s.history.FileTime(rel); ok {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// verify computes the derived verification status for a record.
func (s *FileStore) verify(content, signature, author string) chat.VerifyStatus {
	if signature == "" {
		return chat.VerifyNone
	}
	pub, err := s.ids.PublicKey(author)
	if err != nil || pub == nil {
		return chat.VerifyFailed
	}
	if s.signer.Verify(content, signature, pub) {
		return chat.VerifyPassed
	}
	return chat.VerifyFailed
}

// List returns messages newest first by filesystem modification time.
// limit <= 0 returns everything; truncation happens after ordering.
func (s *FileStore) List(limit int) ([]*chat.Message, error) {
	entries, err := os.ReadDir(s.messagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing messages directory: %w", err)
	}

	type fileInfo struct {
		name  string
		mtime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	var msgs []*chat.Message
	for _, f := range files {
		msg, err := s.Read(f.name)
		if err != nil {
			s.logger.Warn("skipping unreadable message", "file", f.name, "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		msgs = append(msgs, msg)
		if limit > 0 && len(msgs) >= limit {
			break
		}
	}
	return msgs, nil
}

// SelectBefore returns all messages with a resolved timestamp strictly
// older than cutoff, ascending. It feeds the archiver; records without
// a timestamp are never selected.
func (s *FileStore) SelectBefore(cutoff time.Time) ([]*chat.Message, error) {
	all, err := s.List(0)
	if err != nil {
		return nil, err
	}

	var old []*chat.Message
	for _, m := range all {
		if m.HasTimestamp() && m.CreatedAt.Before(cutoff) {
			old = append(old, m)
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i].CreatedAt.Before(old[j].CreatedAt) })
	return old, nil
}

// Remove deletes message files from active storage. Used by the
// archiver after bundling; archiving is a move, not a copy.
func (s *FileStore) Remove(ids []string) error {
	for _, id := range ids {
		if err := os.Remove(filepath.Join(s.messagesDir, filepath.Base(id))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing archived message %s: %w", id, err)
		}
	}
	return nil
}

// publishAsync mirrors a repo-relative path to the remote without
// blocking or failing the caller.
func (s *FileStore) publishAsync(relPath, author string) {
	if s.publisher == nil {
		return
	}
	go func() {
		if err := s.publisher.Publish(relPath, author); err != nil {
			s.logger.Warn("publish failed", "path", relPath, "error", err)
		}
	}()
}

func typeField(t chat.MessageType) string {
	if t == chat.TypeMessage {
		return ""
	}
	return string(t)
}

func messageType(field string) chat.MessageType {
	switch chat.MessageType(field) {
	case chat.TypeUsernameChange:
		return chat.TypeUsernameChange
	case chat.TypeError:
		return chat.TypeError
	default:
		return chat.TypeMessage
	}
}

// atomicWriteFile writes data via a temp file in the destination
// directory followed by a rename.
func atomicWriteFile(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.WriteString(tmp, string(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
