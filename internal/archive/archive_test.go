package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitchat/internal/chat"
	"gitchat/internal/identity"
	"gitchat/internal/sign"
	"gitchat/internal/store"
	"gitchat/internal/testutil"
)

// newTestSetup wires an Archiver over a real file store with messages
// at known timestamps.
func newTestSetup(t *testing.T, daysThreshold int) (*Archiver, *store.FileStore, *testutil.StubClock) {
	t.Helper()
	repo := t.TempDir()
	ids, err := identity.NewStore(filepath.Join(repo, "keys"), filepath.Join(repo, "identity", "public_keys"))
	if err != nil {
		t.Fatal(err)
	}
	clock := testutil.FixedClock()
	fs := store.NewFileStore(repo, "messages", ids, sign.NewEngine(ids), nil, nil, chat.NewNopLogger(), clock)
	if err := fs.Init(); err != nil {
		t.Fatal(err)
	}

	a, err := NewArchiver(fs, filepath.Join(repo, "archives"), daysThreshold, nil, chat.NewNopLogger(), clock)
	if err != nil {
		t.Fatalf("NewArchiver() error = %v", err)
	}
	return a, fs, clock
}

func mustSave(t *testing.T, fs *store.FileStore, author, content string, ts time.Time) string {
	t.Helper()
	id, err := fs.Save(chat.SaveRequest{Author: author, Content: content, Timestamp: ts})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return id
}

func TestArchiver_Archive(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)
	reference := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mustSave(t, fs, "alice", "ancient one", time.Date(2024, 11, 1, 10, 0, 0, 0, time.UTC))
	mustSave(t, fs, "bob_1", "ancient two", time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC))
	mustSave(t, fs, "alice", "recent", time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC))

	path, err := a.Archive(reference)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if filepath.Base(path) != "chat_20241101_20241215.zip" {
		t.Errorf("archive name = %q, want date-range name", filepath.Base(path))
	}

	t.Run("archived records moved out of active storage", func(t *testing.T) {
		active, err := fs.List(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 1 || active[0].Content != "recent" {
			t.Errorf("active messages = %+v, want only the recent one", active)
		}
	})

	t.Run("bundle holds the archived records", func(t *testing.T) {
		msgs, err := a.Messages(path)
		if err != nil {
			t.Fatalf("Messages() error = %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("len(bundle) = %d, want 2", len(msgs))
		}
		if msgs[0].Content != "ancient one" || msgs[1].Content != "ancient two" {
			t.Errorf("bundle order = [%s %s], want ascending", msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("metrics updated", func(t *testing.T) {
		m := a.Metrics()
		if m.TotalArchivesCreated != 1 {
			t.Errorf("TotalArchivesCreated = %d, want 1", m.TotalArchivesCreated)
		}
		if m.TotalMessagesArchived != 2 {
			t.Errorf("TotalMessagesArchived = %d, want 2", m.TotalMessagesArchived)
		}
		if m.TotalBytesArchived <= 0 {
			t.Errorf("TotalBytesArchived = %d, want > 0", m.TotalBytesArchived)
		}
		if m.LastArchiveTime.IsZero() {
			t.Error("LastArchiveTime is zero")
		}
	})
}

func TestArchiver_Archive_NothingOld(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)
	reference := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mustSave(t, fs, "alice", "fresh", time.Date(2025, 2, 25, 0, 0, 0, 0, time.UTC))

	path, err := a.Archive(reference)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if path != "" {
		t.Errorf("Archive() = %q, want empty path for no-op", path)
	}
	if m := a.Metrics(); m.TotalArchivesCreated != 0 {
		t.Errorf("TotalArchivesCreated = %d, want 0 after no-op", m.TotalArchivesCreated)
	}
}

func TestArchiver_Archive_Idempotent(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)
	reference := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mustSave(t, fs, "alice", "old", time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC))

	if _, err := a.Archive(reference); err != nil {
		t.Fatalf("first Archive() error = %v", err)
	}

	// Same reference time, no intervening writes: nothing more moves.
	path, err := a.Archive(reference)
	if err != nil {
		t.Fatalf("second Archive() error = %v", err)
	}
	if path != "" {
		t.Errorf("second Archive() = %q, want no-op", path)
	}
	if m := a.Metrics(); m.TotalMessagesArchived != 1 {
		t.Errorf("TotalMessagesArchived = %d, want 1", m.TotalMessagesArchived)
	}
}

func TestArchiver_Archive_SameDateRangeKeepsBothBundles(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)
	reference := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)

	mustSave(t, fs, "alice", "first pass", day)
	first, err := a.Archive(reference)
	if err != nil {
		t.Fatalf("first Archive() error = %v", err)
	}

	// A message merged in later can carry the same date range; the
	// second bundle must not replace the first.
	mustSave(t, fs, "bob_1", "second pass", day.Add(time.Hour))
	second, err := a.Archive(reference)
	if err != nil {
		t.Fatalf("second Archive() error = %v", err)
	}

	if first == second {
		t.Fatalf("both passes produced %q, want distinct bundles", first)
	}
	if filepath.Base(second) != "chat_20241001_20241001_1.zip" {
		t.Errorf("second bundle = %q, want suffixed name", filepath.Base(second))
	}

	firstMsgs, err := a.Messages(first)
	if err != nil {
		t.Fatalf("Messages(first) error = %v", err)
	}
	if len(firstMsgs) != 1 || firstMsgs[0].Content != "first pass" {
		t.Errorf("first bundle = %+v, want the original record", firstMsgs)
	}
	secondMsgs, err := a.Messages(second)
	if err != nil {
		t.Fatalf("Messages(second) error = %v", err)
	}
	if len(secondMsgs) != 1 || secondMsgs[0].Content != "second pass" {
		t.Errorf("second bundle = %+v, want the later record", secondMsgs)
	}
}

func TestArchiver_UnionInvariant(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)

	timestamps := []time.Time{
		time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, ts := range timestamps {
		mustSave(t, fs, "alice", "message "+string(rune('a'+i)), ts)
	}

	countAll := func() int {
		active, err := fs.List(0)
		if err != nil {
			t.Fatal(err)
		}
		total := len(active)
		infos, err := a.ListArchives()
		if err != nil {
			t.Fatal(err)
		}
		for _, info := range infos {
			total += info.MessageCount
		}
		return total
	}

	if got := countAll(); got != 4 {
		t.Fatalf("initial total = %d, want 4", got)
	}

	// Two archive passes at advancing reference times; the total across
	// active and archived storage never changes.
	for _, ref := range []time.Time{
		time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	} {
		if _, err := a.Archive(ref); err != nil {
			t.Fatalf("Archive(%v) error = %v", ref, err)
		}
		if got := countAll(); got != 4 {
			t.Errorf("total after Archive(%v) = %d, want 4", ref, got)
		}
	}
}

func TestArchiver_ListArchives_Order(t *testing.T) {
	a, fs, _ := newTestSetup(t, 30)

	mustSave(t, fs, "alice", "oldest", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if _, err := a.Archive(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	mustSave(t, fs, "alice", "newer", time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	if _, err := a.Archive(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	infos, err := a.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(ListArchives()) = %d, want 2", len(infos))
	}
	if !infos[0].DateRange.Start.Before(infos[1].DateRange.Start) {
		t.Errorf("archives not ascending by start date: %v then %v",
			infos[0].DateRange.Start, infos[1].DateRange.Start)
	}
}

func TestArchiver_PublishesBundle(t *testing.T) {
	repo := t.TempDir()
	ids, err := identity.NewStore(filepath.Join(repo, "keys"), filepath.Join(repo, "identity", "public_keys"))
	if err != nil {
		t.Fatal(err)
	}
	clock := testutil.FixedClock()
	fs := store.NewFileStore(repo, "messages", ids, sign.NewEngine(ids), nil, nil, chat.NewNopLogger(), clock)
	if err := fs.Init(); err != nil {
		t.Fatal(err)
	}

	pub := testutil.NewRecordingPublisher()
	a, err := NewArchiver(fs, filepath.Join(repo, "archives"), 30, pub, chat.NewNopLogger(), clock)
	if err != nil {
		t.Fatal(err)
	}

	mustSave(t, fs, "alice", "old", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	path, err := a.Archive(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	calls := pub.Calls()
	if len(calls) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(calls))
	}
	want := "archives/" + filepath.Base(path)
	if calls[0].Path != want {
		t.Errorf("published path = %q, want %q", calls[0].Path, want)
	}

	// A bundle file exists even though publishing is best-effort.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("bundle missing after publish: %v", err)
	}
}
