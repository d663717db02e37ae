package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotel-crawler/hotelspider/internal/frontier"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	snap := &Snapshot{
		RunID:     "run-1",
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Seeds:     []string{"https://site.example/hotel/ke/alpha.html"},
		Entries: []frontier.SnapshotEntry{
			{
				Canonical:  "https://site.example/hotel/ke/beta.en-gb.html",
				Raw:        "https://site.example/hotel/ke/beta.html",
				Depth:      1,
				RetryCount: 2,
				State:      "in_flight",
			},
			{
				Canonical: "https://site.example/hotel/ug/gamma.en-gb.html",
				Raw:       "/hotel/ug/gamma.html",
				Depth:     2,
				State:     "pending",
			},
		},
	}

	path, err := Write(dir, snap)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "frontier-20260830-120000")

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, got.RunID)
	assert.True(t, snap.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, snap.Seeds, got.Seeds)
	assert.Equal(t, snap.Entries, got.Entries)
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "checkpoints")

	_, err := Write(dir, &Snapshot{CreatedAt: time.Now()})
	require.NoError(t, err)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.gob.gz"))
	assert.Error(t, err)
}

func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}
