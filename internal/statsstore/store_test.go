package statsstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s := New(Config{Dir: dir})
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleStats() map[string]GroupStats {
	return map[string]GroupStats{
		"g1": {GroupID: "g1", AppID: "app1", Load: 10.5, Weight: 3, QueryIDs: []string{"q1", "q2"}},
		"g2": {GroupID: "g2", AppID: "app2", Load: 1, Weight: 1, QueryIDs: []string{"q3"}},
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s := setupTestStore(t, "")

	require.NoError(t, s.Save("worker-1", sampleStats()))
	got, err := s.Load("worker-1")
	require.NoError(t, err)
	assert.Equal(t, sampleStats(), got)

	_, err = s.Load("worker-2")
	assert.ErrorIs(t, err, ErrWorkerUnknown)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := setupTestStore(t, "")

	require.NoError(t, s.Save("worker-1", sampleStats()))
	require.NoError(t, s.Save("worker-1", map[string]GroupStats{"g3": {GroupID: "g3", AppID: "app3"}}))

	got, err := s.Load("worker-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "g3")
}

func TestStore_WorkersAndDelete(t *testing.T) {
	s := setupTestStore(t, "")

	require.NoError(t, s.Save("worker-1", sampleStats()))
	require.NoError(t, s.Save("worker-2", sampleStats()))

	workers, err := s.Workers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-1", "worker-2"}, workers)

	require.NoError(t, s.Delete("worker-1"))
	require.NoError(t, s.Delete("worker-unknown"))
	workers, err = s.Workers()
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-2"}, workers)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir})
	require.NoError(t, s.Open())
	require.NoError(t, s.Save("worker-1", sampleStats()))
	require.NoError(t, s.Close())

	s = setupTestStore(t, dir)
	got, err := s.Load("worker-1")
	require.NoError(t, err)
	assert.Equal(t, sampleStats(), got)
}

func TestStore_NotOpen(t *testing.T) {
	s := New(Config{})
	assert.ErrorIs(t, s.Save("w", nil), ErrNotOpen)
	_, err := s.Load("w")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, s.Delete("w"), ErrNotOpen)
	_, err = s.Workers()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, s.Close())
}
