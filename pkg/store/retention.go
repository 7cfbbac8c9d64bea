package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

type CleanupResult struct {
	Kept        int
	Removed     int
	ArchivePath string
}

// Cleanup drops events older than days and archives them as a zstd JSONL
// segment under archive/. days <= 0 keeps everything.
func (s *Store) Cleanup(days int, now time.Time) (CleanupResult, error) {
	if days <= 0 {
		return CleanupResult{}, nil
	}
	ds, err := s.LoadDataset()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CleanupResult{}, nil
		}
		return CleanupResult{}, err
	}
	cutoff := now.UTC().AddDate(0, 0, -days)
	kept := make([]usage.Event, 0, len(ds.Events))
	var removed []usage.Event
	for _, e := range ds.Events {
		if e.Date.Before(cutoff) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	res := CleanupResult{Kept: len(kept), Removed: len(removed)}
	if len(removed) == 0 {
		return res, nil
	}
	archive, err := s.writeArchive(removed)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("archive removed events: %w", err)
	}
	res.ArchivePath = archive
	ds.Events = kept
	ds.Timestamp = now.UTC()
	if _, err := s.WriteDataset(ds, now); err != nil {
		return CleanupResult{}, err
	}
	slog.Info("usage retention cleanup", "removed", len(removed), "kept", len(kept), "cutoff", cutoff.Format(time.RFC3339), "archive", archive)
	return res, nil
}

func (s *Store) writeArchive(events []usage.Event) (string, error) {
	dir := filepath.Join(s.dir, archiveDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	seq := time.Now().UTC().UnixNano()
	tmp := filepath.Join(dir, fmt.Sprintf("open-%d.jsonl.zst.tmp", seq))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	var minTs, maxTs time.Time
	for _, e := range events {
		line, err := json.Marshal(e)
		if err == nil {
			_, err = enc.Write(append(line, '\n'))
		}
		if err != nil {
			_ = enc.Close()
			_ = f.Close()
			_ = os.Remove(tmp)
			return "", err
		}
		if minTs.IsZero() || e.Date.Before(minTs) {
			minTs = e.Date
		}
		if maxTs.IsZero() || e.Date.After(maxTs) {
			maxTs = e.Date
		}
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	final := filepath.Join(dir, fmt.Sprintf("events-%d-%d-%d.jsonl.zst", minTs.Unix(), maxTs.Unix(), seq))
	if err := os.Rename(tmp, final); err != nil {
		return "", err
	}
	return final, nil
}

// Archives lists archive segments ordered by their oldest event.
func (s *Store) Archives() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, archiveDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type seg struct {
		path string
		min  int64
	}
	var segs []seg
	for _, d := range entries {
		name := d.Name()
		if d.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, "events-"), ".jsonl.zst"), "-")
		if len(parts) < 3 {
			continue
		}
		minUnix, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, seg{path: filepath.Join(s.dir, archiveDirName, name), min: minUnix})
	}
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].min == segs[j].min {
			return segs[i].path < segs[j].path
		}
		return segs[i].min < segs[j].min
	})
	out := make([]string, 0, len(segs))
	for _, sg := range segs {
		out = append(out, sg.path)
	}
	return out, nil
}

// ReadArchive decodes every event in one archive segment.
func ReadArchive(path string) ([]usage.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var out []usage.Event
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e usage.Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
