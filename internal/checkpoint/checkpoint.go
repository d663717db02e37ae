// Package checkpoint persists unfinished frontier state for later
// inspection or manual re-seeding. Automatic resumption is out of scope.
package checkpoint

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hotel-crawler/hotelspider/internal/frontier"
)

// Snapshot captures the work a cancelled run left behind.
type Snapshot struct {
	RunID     string
	CreatedAt time.Time
	Seeds     []string
	Entries   []frontier.SnapshotEntry
}

// Write stores a snapshot under dir and returns the file path.
func Write(dir string, snap *Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("frontier-%s.gob.gz", snap.CreatedAt.Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create checkpoint: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		gz.Close()
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("flush checkpoint: %w", err)
	}
	return path, nil
}

// Read loads a snapshot written by Write.
func Read(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	defer gz.Close()

	var snap Snapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &snap, nil
}
