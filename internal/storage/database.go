// Package storage persists crawl runs and extracted listings.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"github.com/hotel-crawler/hotelspider/internal/extractor"
)

// Store is a SQLite-backed result store. It doubles as the scheduler's
// record sink: Write accepts extracted records and logs its own failures,
// never surfacing them to the crawl.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	runID string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// StartRun records a new crawl run and returns its identifier. Subsequent
// Write calls attach listings to this run.
func (s *Store) StartRun(seeds []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, seeds, started_at) VALUES (?, ?, ?)`,
		id, strings.Join(seeds, "\n"), time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.runID = id
	return id, nil
}

// FinishRun stamps the run's end time and final counters.
func (s *Store) FinishRun(visited, failed, retried int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, visited = ?, failed = ?, retried = ? WHERE id = ?`,
		time.Now(), visited, failed, retried, s.runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Write implements the scheduler's Sink. Records that are not listings and
// insert failures are logged and dropped.
func (s *Store) Write(record any) {
	listing, ok := record.(*extractor.Listing)
	if !ok {
		log.Warn().Type("record", record).Msg("sink received unknown record type")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO listings (run_id, url, title, summary, fetched_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.runID, listing.URL, listing.Title, listing.Summary, listing.FetchedAt,
	)
	if err != nil {
		log.Error().Str("url", listing.URL).Err(err).Msg("persist listing failed")
	}
}

// Listings returns all listings recorded for a run, oldest first. An empty
// runID selects the most recently started run.
func (s *Store) Listings(runID string) ([]extractor.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		row := s.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`)
		if err := row.Scan(&runID); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("no crawl runs recorded")
			}
			return nil, fmt.Errorf("latest run: %w", err)
		}
	}

	rows, err := s.db.Query(
		`SELECT url, title, summary, fetched_at FROM listings WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []extractor.Listing
	for rows.Next() {
		var l extractor.Listing
		if err := rows.Scan(&l.URL, &l.Title, &l.Summary, &l.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
