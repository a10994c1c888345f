// Package archive relocates messages older than a threshold out of
// active storage into compressed zip bundles. Archiving is a move, not
// a copy: the union of active messages and all bundles is the complete
// history, with no record in two places at once.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"

	"gitchat/internal/chat"
)

// Source supplies archivable records and removes them once bundled.
// Both storage backends implement it.
type Source interface {
	// SelectBefore returns records strictly older than cutoff,
	// ascending by timestamp.
	SelectBefore(cutoff time.Time) ([]*chat.Message, error)
	// Remove deletes the given records from active storage.
	Remove(ids []string) error
}

// Metrics are the running counters for archive operations.
type Metrics struct {
	TotalArchivesCreated  int       `json:"total_archives_created"`
	TotalMessagesArchived int       `json:"total_messages_archived"`
	TotalBytesArchived    int64     `json:"total_bytes_archived"`
	LastArchiveTime       time.Time `json:"last_archive_time"`
}

// Info describes one archive bundle, read back from its metadata.
type Info struct {
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	DateRange    DateRange `json:"date_range"`
}

// DateRange is the inclusive timestamp span of a bundle's records.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// bundleMetadata is the metadata.json object inside each bundle.
type bundleMetadata struct {
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	DateRange    DateRange `json:"date_range"`
}

// Archiver bundles old messages into zip files under dir.
type Archiver struct {
	source        Source
	dir           string
	daysThreshold int
	publisher     chat.Publisher // optional, best-effort
	logger        chat.Logger
	clock         chat.Clock

	mu      sync.Mutex
	metrics Metrics
}

// NewArchiver creates an Archiver writing bundles to dir. publisher may
// be nil.
func NewArchiver(source Source, dir string, daysThreshold int, publisher chat.Publisher, logger chat.Logger, clock chat.Clock) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &Archiver{
		source:        source,
		dir:           dir,
		daysThreshold: daysThreshold,
		publisher:     publisher,
		logger:        logger,
		clock:         clock,
	}, nil
}

// Archive bundles all messages strictly older than
// referenceTime - threshold days and removes them from active storage.
// Returns the bundle path, or "" when there was nothing to archive
// (a no-op, not an error). The cutoff is evaluated exactly once, so a
// message written concurrently with the archive pass is never swept in.
func (a *Archiver) Archive(referenceTime time.Time) (string, error) {
	cutoff := referenceTime.AddDate(0, 0, -a.daysThreshold)

	msgs, err := a.source.SelectBefore(cutoff)
	if err != nil {
		return "", fmt.Errorf("selecting messages to archive: %w", err)
	}
	if len(msgs) == 0 {
		a.logger.Info("no messages to archive", "cutoff", cutoff)
		return "", nil
	}

	start := msgs[0].CreatedAt
	end := msgs[len(msgs)-1].CreatedAt
	// Two passes can span the same date range; an existing bundle is a
	// prior pass's records and must never be replaced.
	base := fmt.Sprintf("chat_%s_%s", start.UTC().Format("20060102"), end.UTC().Format("20060102"))
	name := base + ".zip"
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(a.dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s_%d.zip", base, n)
	}
	path := filepath.Join(a.dir, name)

	if err := a.writeBundle(path, msgs, start, end); err != nil {
		return "", err
	}

	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	// The bundle is durable; now the records leave active storage.
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := a.source.Remove(ids); err != nil {
		return "", fmt.Errorf("removing archived messages: %w", err)
	}

	a.mu.Lock()
	a.metrics.TotalArchivesCreated++
	a.metrics.TotalMessagesArchived += len(msgs)
	a.metrics.TotalBytesArchived += size
	a.metrics.LastArchiveTime = a.clock.Now()
	a.mu.Unlock()

	a.logger.Info("archive created", "path", path, "messages", len(msgs), "bytes", size)

	if a.publisher != nil {
		if err := a.publisher.Publish(filepath.ToSlash(filepath.Join(filepath.Base(a.dir), name)), "system"); err != nil {
			a.logger.Warn("archive publish failed", "path", path, "error", err)
		}
	}

	return path, nil
}

// writeBundle writes messages.json and metadata.json into a new zip
// file, atomically.
func (a *Archiver) writeBundle(path string, msgs []*chat.Message, start, end time.Time) error {
	tmp, err := os.CreateTemp(a.dir, ".tmp-*")
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

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	if err := writeZipJSON(zw, "messages.json", msgs); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	meta := bundleMetadata{
		CreatedAt:    a.clock.Now().UTC(),
		MessageCount: len(msgs),
		DateRange:    DateRange{Start: start, End: end},
	}
	if err := writeZipJSON(zw, "metadata.json", meta); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming archive into place: %w", err)
	}

	success = true
	return nil
}

func writeZipJSON(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s in archive: %w", name, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return nil
}

// ListArchives returns metadata for every bundle, ascending by start
// date. Bundles that cannot be read are skipped with a log line.
func (a *Archiver) ListArchives() ([]*Info, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "chat_*.zip"))
	if err != nil {
		return nil, fmt.Errorf("listing archive directory: %w", err)
	}

	var infos []*Info
	for _, path := range matches {
		info, err := readArchiveInfo(path)
		if err != nil {
			a.logger.Warn("skipping unreadable archive", "path", path, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].DateRange.Start.Before(infos[j].DateRange.Start)
	})
	return infos, nil
}

// Messages returns the records stored in the bundle at path.
func (a *Archiver) Messages(path string) ([]*chat.Message, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer zr.Close()

	var msgs []*chat.Message
	if err := readZipJSON(&zr.Reader, "messages.json", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Metrics returns a snapshot of the running archive counters.
func (a *Archiver) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func readArchiveInfo(path string) (*Info, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	info := &Info{Filename: filepath.Base(path), Path: path}

	var meta bundleMetadata
	if err := readZipJSON(&zr.Reader, "metadata.json", &meta); err == nil {
		info.CreatedAt = meta.CreatedAt
		info.MessageCount = meta.MessageCount
		info.DateRange = meta.DateRange
		return info, nil
	}

	// Older bundles carry no metadata.json; reconstruct from the
	// records themselves.
	var msgs []*chat.Message
	if err := readZipJSON(&zr.Reader, "messages.json", &msgs); err != nil {
		return nil, err
	}
	info.MessageCount = len(msgs)
	if len(msgs) > 0 {
		info.DateRange = DateRange{Start: msgs[0].CreatedAt, End: msgs[len(msgs)-1].CreatedAt}
	}
	return info, nil
}

func readZipJSON(zr *zip.Reader, name string, v any) error {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(v); err != nil {
			return fmt.Errorf("decoding %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%s not found in archive", name)
}
