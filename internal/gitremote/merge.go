package gitremote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gitchat/internal/codec"
)

const filenameTimeLayout = "20060102_150405"

// MergeForkMessages copies messages found in fork clones into the
// canonical messages directory, skipping any message already present
// there. Identity is content-addressed over (content, author,
// timestamp), so the same message merged from two forks, or merged
// twice, lands exactly once. Returns the number of files copied.
func (r *Remote) MergeForkMessages() (int, error) {
	canonical := filepath.Join(r.repoPath, r.messagesDir)
	seen, err := messageKeys(canonical)
	if err != nil {
		return 0, fmt.Errorf("indexing local messages: %w", err)
	}

	clones, err := os.ReadDir(r.clonesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading clones directory: %w", err)
	}

	merged := 0
	for _, clone := range clones {
		if !clone.IsDir() {
			continue
		}
		dir := filepath.Join(r.clonesDir, clone.Name(), r.messagesDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			// A clone without the message subtree contributes nothing.
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				r.logger.Warn("skipping unreadable fork message", "clone", clone.Name(), "file", entry.Name(), "error", err)
				continue
			}
			key, ts, author := messageKey(string(data), entry.Name())
			if _, ok := seen[key]; ok {
				continue
			}

			name := mergedName(ts, author, key)
			if err := os.WriteFile(filepath.Join(canonical, name), data, 0644); err != nil {
				return merged, fmt.Errorf("writing merged message %s: %w", name, err)
			}
			seen[key] = struct{}{}
			merged++
			r.logger.Info("merged fork message", "clone", clone.Name(), "file", name)
		}
	}
	return merged, nil
}

// messageKeys indexes every message file in dir by its dedup key.
func messageKeys(dir string) (map[string]struct{}, error) {
	keys := map[string]struct{}{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		key, _, _ := messageKey(string(data), entry.Name())
		keys[key] = struct{}{}
	}
	return keys, nil
}

// messageKey derives the dedup key for a message file, plus the
// timestamp and author used to name a merged copy. Metadata wins over
// the filename for both.
func messageKey(text, filename string) (key string, ts time.Time, author string) {
	meta, content := codec.Decode(text)

	author = meta[codec.FieldAuthor]
	// The key hashes the normalized timestamp, not the raw footer
	// string: "Z" and "+00:00" renditions of the same instant must
	// collapse to one key. The raw string is kept only when it cannot
	// be parsed at all.
	tsText := meta[codec.FieldDate]
	if t, err := time.Parse(time.RFC3339, tsText); err == nil {
		ts = t
		tsText = t.UTC().Format(time.RFC3339)
	} else if t, ok := filenameTime(filename); ok {
		ts = t
		tsText = t.UTC().Format(time.RFC3339)
	}
	if author == "" {
		author = "anonymous"
	}

	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(author))
	h.Write([]byte{0})
	h.Write([]byte(tsText))
	return hex.EncodeToString(h.Sum(nil)), ts, author
}

func filenameTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".txt")
	if len(base) < len(filenameTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(filenameTimeLayout, base[:len(filenameTimeLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// mergedName qualifies the usual timestamp_author name with a hash
// prefix so two forks' distinct messages from the same author and
// second cannot collide.
func mergedName(ts time.Time, author string, key string) string {
	stamp := "00000000_000000"
	if !ts.IsZero() {
		stamp = ts.UTC().Format(filenameTimeLayout)
	}
	return fmt.Sprintf("%s_%s_%s.txt", stamp, sanitize(author), key[:8])
}
