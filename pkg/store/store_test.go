package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viaszx/cursor-usage-tracker/pkg/usage"
)

func event(ts time.Time, cost float64) usage.Event {
	return usage.Event{
		ID:     strconv.FormatInt(ts.UnixMilli(), 10) + "_x",
		Date:   ts.UTC(),
		Model:  "gpt-5",
		Kind:   usage.KindUsageBased,
		Tokens: 10,
		Cost:   cost,
		Source: usage.SourceAPI,
	}
}

func TestLoadDatasetMissing(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	_, err = s.LoadDataset()
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.LoadStats()
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.LoadUserInfo()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestWriteDatasetPersistsStats(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := &usage.Dataset{
		Timestamp:    now,
		LastSyncDate: "1772366400000",
		Events:       []usage.Event{event(now.Add(-time.Hour), 2), event(now.Add(-2*time.Hour), 3)},
	}

	st, err := s.WriteDataset(ds, now)
	require.NoError(t, err)
	assert.Equal(t, float64(5), st.TotalCost)

	loaded, err := s.LoadDataset()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TotalEvents)
	assert.Equal(t, "1772366400000", loaded.LastSyncDate)
	require.Len(t, loaded.Events, 2)
	assert.Equal(t, ds.Events[0].ID, loaded.Events[0].ID)

	stats, err := s.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)

	_, err = os.Stat(filepath.Join(s.Dir(), DatasetFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestUserInfoLastWriteWins(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SaveUserInfo(usage.UserInfo{Email: "a@example.com", Plan: "pro", Balance: 3}))
	require.NoError(t, s.SaveUserInfo(usage.UserInfo{Email: "b@example.com"}))

	info, err := s.LoadUserInfo()
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", info.Email)
	assert.Empty(t, info.Plan)
	assert.Zero(t, info.Balance)
}

func TestCleanupArchivesOldEvents(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := &usage.Dataset{Events: []usage.Event{
		event(now.Add(-time.Hour), 1),
		event(now.AddDate(0, 0, -10), 2),
		event(now.AddDate(0, 0, -40), 3),
	}}
	_, err = s.WriteDataset(ds, now)
	require.NoError(t, err)

	res, err := s.Cleanup(7, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 2, res.Removed)
	require.NotEmpty(t, res.ArchivePath)

	loaded, err := s.LoadDataset()
	require.NoError(t, err)
	require.Len(t, loaded.Events, 1)

	archives, err := s.Archives()
	require.NoError(t, err)
	require.Equal(t, []string{res.ArchivePath}, archives)

	archived, err := ReadArchive(res.ArchivePath)
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	stats, err := s.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
}

func TestCleanupNoopWithoutDatasetOrDays(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	res, err := s.Cleanup(30, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Removed)

	res, err = s.Cleanup(0, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
}
