package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

const (
	DatasetFileName  = "usage-data.json"
	StatsFileName    = "stats.json"
	UserInfoFileName = "user-info.json"
	archiveDirName   = "archive"
)

// Store owns the JSON documents under one data directory. Writers are
// serialized within the process; concurrent external writers are unsupported.
type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// LoadDataset returns ErrNotFound when no collection has succeeded yet.
func (s *Store) LoadDataset() (*usage.Dataset, error) {
	var ds usage.Dataset
	if err := loadJSON(s.path(DatasetFileName), &ds); err != nil {
		return nil, err
	}
	if ds.Events == nil {
		ds.Events = []usage.Event{}
	}
	return &ds, nil
}

func (s *Store) SaveDataset(ds *usage.Dataset) error {
	if ds == nil {
		return fmt.Errorf("nil dataset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds.TotalEvents = len(ds.Events)
	return saveJSON(s.path(DatasetFileName), ds)
}

func (s *Store) LoadStats() (*usage.Stats, error) {
	var st usage.Stats
	if err := loadJSON(s.path(StatsFileName), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveStats(st usage.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveJSON(s.path(StatsFileName), st)
}

// WriteDataset persists the dataset and the stats recomputed from it.
func (s *Store) WriteDataset(ds *usage.Dataset, now time.Time) (usage.Stats, error) {
	if err := s.SaveDataset(ds); err != nil {
		return usage.Stats{}, err
	}
	st := usage.ComputeStats(ds.Events, now)
	if err := s.SaveStats(st); err != nil {
		return usage.Stats{}, err
	}
	slog.Debug("usage dataset written", "events", len(ds.Events), "last_sync_date", ds.LastSyncDate)
	return st, nil
}

func (s *Store) LoadUserInfo() (*usage.UserInfo, error) {
	var info usage.UserInfo
	if err := loadJSON(s.path(UserInfoFileName), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) SaveUserInfo(info usage.UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveJSON(s.path(UserInfoFileName), info)
}
