package gitremote

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gitchat/internal/chat"
	"gitchat/internal/codec"
	"gitchat/internal/testutil"
)

func newTestRemote(t *testing.T) *Remote {
	t.Helper()
	root := t.TempDir()
	repoPath := filepath.Join(root, "repo")
	clonesDir := filepath.Join(root, "clones")
	if err := os.MkdirAll(filepath.Join(repoPath, "messages"), 0755); err != nil {
		t.Fatal(err)
	}
	return New(repoPath, "https://example.com/origin/chat.git", clonesDir, "messages", time.Second, chat.NewNopLogger(), testutil.FixedClock())
}

func writeMessage(t *testing.T, dir, name, author, content string, ts time.Time) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	text := codec.Encode(codec.Record{Content: content, Author: author, Timestamp: ts})
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return text
}

func TestMergeForkMessages(t *testing.T) {
	r := newTestRemote(t)
	canonical := filepath.Join(r.repoPath, "messages")
	ts := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	// Already present locally.
	local := writeMessage(t, canonical, "20250201_120000_alice.txt", "alice", "hello", ts)
	// Same message in a fork under a different filename: must be skipped.
	forkA := filepath.Join(r.clonesDir, "bob_chat", "messages")
	if err := os.MkdirAll(forkA, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(forkA, "20250201_120000_alice_dup.txt"), []byte(local), 0644); err != nil {
		t.Fatal(err)
	}
	// New message from the fork.
	writeMessage(t, forkA, "20250201_130000_bob.txt", "bob", "hi from bob", ts.Add(time.Hour))
	// Another fork carrying the same new message plus one of its own.
	forkB := filepath.Join(r.clonesDir, "carol_chat", "messages")
	writeMessage(t, forkB, "20250201_130000_bob.txt", "bob", "hi from bob", ts.Add(time.Hour))
	writeMessage(t, forkB, "20250201_140000_carol.txt", "carol", "hi from carol", ts.Add(2*time.Hour))

	merged, err := r.MergeForkMessages()
	if err != nil {
		t.Fatalf("MergeForkMessages() error = %v", err)
	}
	if merged != 2 {
		t.Errorf("merged = %d, want 2", merged)
	}

	entries, err := os.ReadDir(canonical)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("canonical dir has %d files, want 3", len(entries))
	}
	var gotBob, gotCarol bool
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "20250201_130000_bob_"):
			gotBob = true
		case strings.HasPrefix(e.Name(), "20250201_140000_carol_"):
			gotCarol = true
		}
	}
	if !gotBob || !gotCarol {
		t.Errorf("merged filenames missing: bob=%v carol=%v", gotBob, gotCarol)
	}
}

func TestMergeForkMessagesIdempotent(t *testing.T) {
	r := newTestRemote(t)
	fork := filepath.Join(r.clonesDir, "bob_chat", "messages")
	writeMessage(t, fork, "20250201_130000_bob.txt", "bob", "hi", time.Date(2025, 2, 1, 13, 0, 0, 0, time.UTC))

	if merged, err := r.MergeForkMessages(); err != nil || merged != 1 {
		t.Fatalf("first merge = (%d, %v), want (1, nil)", merged, err)
	}
	if merged, err := r.MergeForkMessages(); err != nil || merged != 0 {
		t.Errorf("second merge = (%d, %v), want (0, nil)", merged, err)
	}
}

func TestMergeForkMessagesCopiesVerbatim(t *testing.T) {
	r := newTestRemote(t)
	fork := filepath.Join(r.clonesDir, "bob_chat", "messages")
	original := writeMessage(t, fork, "20250201_130000_bob.txt", "bob", "exact bytes", time.Date(2025, 2, 1, 13, 0, 0, 0, time.UTC))

	if _, err := r.MergeForkMessages(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(r.repoPath, "messages"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir = (%v, %v), want one file", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(r.repoPath, "messages", entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != original {
		t.Errorf("merged file differs from fork original:\ngot  %q\nwant %q", data, original)
	}
}

func TestMergeForkMessagesNoClones(t *testing.T) {
	r := newTestRemote(t)
	if merged, err := r.MergeForkMessages(); err != nil || merged != 0 {
		t.Errorf("merge with no clones dir = (%d, %v), want (0, nil)", merged, err)
	}
}

func TestCloneName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/alice/chat.git", "alice_chat"},
		{"https://github.com/alice/chat", "alice_chat"},
		{"git@host:bob/chat.git", "git_host_bob_chat"},
		{"https://example.com/team/chat/", "team_chat"},
	}
	for _, tt := range tests {
		if got := cloneName(tt.url); got != tt.want {
			t.Errorf("cloneName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestMessageKeyNormalizesTimestamp(t *testing.T) {
	// "Z" and "+00:00" spell the same instant; the key must not depend
	// on which rendition a fork's footer carries.
	zulu := "hello\n\n-- \nAuthor: alice\nDate: 2025-02-01T12:00:00Z\n"
	offset := "hello\n\n-- \nAuthor: alice\nDate: 2025-02-01T12:00:00+00:00\n"
	key1, _, _ := messageKey(zulu, "a.txt")
	key2, _, _ := messageKey(offset, "b.txt")
	if key1 != key2 {
		t.Errorf("keys differ across timestamp renditions: %q vs %q", key1, key2)
	}
}

func TestMergeForkMessagesTimestampRenditions(t *testing.T) {
	r := newTestRemote(t)
	ts := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	// Canonical copy encoded with "Z".
	writeMessage(t, filepath.Join(r.repoPath, "messages"), "20250201_120000_alice.txt", "alice", "hello", ts)
	// A fork re-encoded the footer date with a numeric offset.
	fork := filepath.Join(r.clonesDir, "bob_chat", "messages")
	if err := os.MkdirAll(fork, 0755); err != nil {
		t.Fatal(err)
	}
	variant := "hello\n\n-- \nAuthor: alice\nDate: 2025-02-01T12:00:00+00:00\n"
	if err := os.WriteFile(filepath.Join(fork, "20250201_120000_alice.txt"), []byte(variant), 0644); err != nil {
		t.Fatal(err)
	}

	merged, err := r.MergeForkMessages()
	if err != nil {
		t.Fatalf("MergeForkMessages() error = %v", err)
	}
	if merged != 0 {
		t.Errorf("merged = %d, want 0", merged)
	}
}

func TestMessageKeyFallsBackToFilenameTime(t *testing.T) {
	// No Date field: the filename prefix supplies the timestamp.
	key1, ts, author := messageKey("just content", "20250201_130000_bob.txt")
	if author != "anonymous" {
		t.Errorf("author = %q, want anonymous", author)
	}
	want := time.Date(2025, 2, 1, 13, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("ts = %v, want %v", ts, want)
	}
	key2, _, _ := messageKey("just content", "20250201_140000_bob.txt")
	if key1 == key2 {
		t.Error("different timestamps produced the same key")
	}
}
